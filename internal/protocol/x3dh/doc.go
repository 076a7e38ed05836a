// Package x3dh implements the asynchronous key agreement that bootstraps a
// ratchet session between two parties.
//
// # Overview
//
// The initiator fetches a prekey bundle published by the responder:
//   - Identity key (X25519 half of the identity)
//   - Signed prekey (X25519) and its Ed25519 signature
//   - Optional one-time prekey (X25519)
//
// # Flows
//
// Initiator:
//  1. Verify the signed prekey signature (VerifySignedPreKey).
//  2. Generate an ephemeral base key.
//  3. Compute DH values in fixed order (IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb]).
//  4. One HKDF-SHA256 pass over the transcript yields rootKey || chainKey.
//
// Responder:
//  1. Receive the handshake header (initiator identity, base key, prekey ids).
//  2. Look up the signed prekey and, if referenced, the one-time prekey.
//  3. Compute the symmetric DH set in the same order.
//  4. Derive the identical secrets.
//
// The DH order is part of the protocol. Changing it changes every derived key.
package x3dh
