// Package message encrypts and decrypts messages under ratchet sessions.
//
// The Cipher owns the per-address critical section: each call loads the
// serialised record, works on copies of its states, and stores the record
// again only once the message has authenticated. Message types form a
// closed set (Whisper and PreKeyBundle); anything else is rejected as an
// invalid message.
package message
