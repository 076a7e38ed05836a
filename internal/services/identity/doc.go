// Package identity creates the local identity and manages the identity keys
// pinned for peers.
//
// It generates X25519 and Ed25519 key pairs plus a registration id, persists
// them via the domain.IdentityStore, reports fingerprints, and performs the
// explicit trust override. CheckPassphrase holds the passphrase policy used
// before sealing a new identity.
package identity
