// Package crypto exposes the primitives and key material generators used by
// sesame.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     GenerateKeyPair, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - HKDF-SHA256 and HMAC-SHA256 (KDF, HMAC)
//   - ChaCha20-Poly1305 sealing (Seal, Open)
//   - Identity, registration id and prekey generation (GenerateIdentity,
//     GenerateRegistrationID, GeneratePreKey, GenerateSignedPreKey)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and wipe them with memzero when practical.
package crypto
