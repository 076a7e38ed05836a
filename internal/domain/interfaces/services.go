package interfaces

import (
	"context"

	domaintypes "sesame/internal/domain/types"
)

// IdentityService creates and inspects identities and resolves trust
// conflicts on an explicit user decision.
type IdentityService interface {
	GenerateIdentity() (domaintypes.Identity, domaintypes.Fingerprint, error)
	FingerprintIdentity() (domaintypes.Fingerprint, error)
	RemoteFingerprint(address domaintypes.Address) (domaintypes.Fingerprint, bool, error)
	TrustIdentity(address domaintypes.Address, key domaintypes.IdentityKey) error
}

// PreKeyService generates pre-keys and assembles the bundle to publish.
type PreKeyService interface {
	GeneratePreKeys(start uint32, count int) ([]domaintypes.PreKeyRecord, error)
	GenerateSignedPreKey(id uint32) (domaintypes.SignedPreKeyRecord, error)
	LoadPreKeyBundle() (domaintypes.PreKeyBundle, error)
}

// SessionBuilder runs the initiator side of the handshake.
type SessionBuilder interface {
	ProcessPreKeyBundle(
		ctx context.Context,
		address domaintypes.Address,
		bundle domaintypes.PreKeyBundle,
	) error
}

// SessionCipher encrypts and decrypts under the ratchet.
type SessionCipher interface {
	Encrypt(
		ctx context.Context,
		address domaintypes.Address,
		plaintext []byte,
	) (domaintypes.Ciphertext, error)
	Decrypt(
		ctx context.Context,
		address domaintypes.Address,
		ciphertext domaintypes.Ciphertext,
	) ([]byte, error)
	HasOpenSession(ctx context.Context, address domaintypes.Address) (bool, error)
}
