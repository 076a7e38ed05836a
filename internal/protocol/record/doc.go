// Package record manages the ordered set of session states kept per address.
//
// A record has at most one current state and a most-recent-first list of
// previous states. Previous states exist only to open messages sent under
// older handshakes (reordering, and both peers initiating at once), so they
// are bounded by count and by time since last use.
//
// Records serialise as one version byte followed by CBOR.
package record
