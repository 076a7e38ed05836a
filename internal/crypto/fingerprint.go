package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"sesame/internal/domain"
)

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}

// IdentityFingerprint fingerprints both halves of an identity key.
func IdentityFingerprint(key domain.IdentityKey) domain.Fingerprint {
	return domain.Fingerprint(Fingerprint(key.Bytes()))
}
