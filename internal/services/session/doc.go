// Package session establishes ratchet sessions with X3DH.
//
// Builder.ProcessPreKeyBundle is the initiator side: it verifies a peer's
// bundle, derives the shared secrets and installs a new current state for
// the address. Builder.ProcessPreKeyMessage is the responder side, invoked
// by the message cipher when an incoming handshake header matches no state
// it already holds.
//
// Both sides enforce the pinned identity for the address. The builder and
// the cipher share one per-address lock so a handshake never interleaves
// with encryption or decryption for the same peer.
package session
