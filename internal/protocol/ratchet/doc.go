// Package ratchet implements the double ratchet state transitions over
// domain.SessionState.
//
// Every message advances a symmetric chain:
//
//	messageKey = HMAC-SHA256(chainKey, "message")
//	chainKey   = HMAC-SHA256(chainKey, "chain")
//
// When the peer's ratchet public key changes, a DH output is mixed into the
// root key to derive a new receiving chain, and our own ratchet key rotates
// to derive a new sending chain.
//
// Out-of-order delivery is handled by caching skipped message keys, bounded
// by Limits. Encrypt and Decrypt never modify their input state; they
// return an advanced copy that the caller commits only on success.
//
// Concurrency: SessionState is NOT safe for concurrent use. Callers must
// serialise access per address.
package ratchet
