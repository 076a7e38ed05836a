package interfaces

import domaintypes "sesame/internal/domain/types"

// IdentityStore persists your long-term identity keys.
type IdentityStore interface {
	SaveIdentityKeyPair(id domaintypes.Identity, registrationID uint32) error
	IdentityKeyPair() (domaintypes.Identity, error)
	LocalRegistrationID() (uint32, error)
}

// TrustStore pins the identity key last accepted for each remote address.
//
// SaveIdentity never replaces a different key; it fails with
// domain.ErrIdentityKeyChanged. Only ReplaceIdentity, invoked on an explicit
// user decision, may do that.
type TrustStore interface {
	IsTrustedIdentity(address domaintypes.Address, key domaintypes.IdentityKey) (bool, error)
	SaveIdentity(address domaintypes.Address, key domaintypes.IdentityKey) error
	ReplaceIdentity(address domaintypes.Address, key domaintypes.IdentityKey) error
	LoadIdentity(address domaintypes.Address) (domaintypes.IdentityKey, bool, error)
}

// PreKeyStore manages one-time pre-keys.
type PreKeyStore interface {
	StorePreKey(record domaintypes.PreKeyRecord) error
	LoadPreKey(id uint32) (domaintypes.PreKeyRecord, bool, error)
	RemovePreKey(id uint32) error
	ListPreKeys() ([]domaintypes.PreKeyRecord, error)
}

// SignedPreKeyStore manages signed pre-keys and which one is published.
type SignedPreKeyStore interface {
	StoreSignedPreKey(record domaintypes.SignedPreKeyRecord) error
	LoadSignedPreKey(id uint32) (domaintypes.SignedPreKeyRecord, bool, error)

	SetCurrentSignedPreKeyID(id uint32) error
	CurrentSignedPreKeyID() (uint32, bool, error)
}

// SessionStore keeps one serialised session record per address. The format
// is owned by the protocol/record package.
type SessionStore interface {
	LoadSession(address domaintypes.Address) ([]byte, bool, error)
	StoreSession(address domaintypes.Address, record []byte) error
}

// ProtocolStore is everything the builder and cipher need.
type ProtocolStore interface {
	IdentityStore
	TrustStore
	PreKeyStore
	SignedPreKeyStore
	SessionStore
}
