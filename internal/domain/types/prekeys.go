package types

// PreKeyRecord is a one-time prekey pair held by its owner until a peer
// consumes it.
type PreKeyRecord struct {
	ID      uint32  `cbor:"1,keyasint"`
	KeyPair KeyPair `cbor:"2,keyasint"`
}

// SignedPreKeyRecord is a medium-term prekey pair plus the identity signature
// over its public half.
type SignedPreKeyRecord struct {
	ID         uint32  `cbor:"1,keyasint"`
	KeyPair    KeyPair `cbor:"2,keyasint"`
	Signature  []byte  `cbor:"3,keyasint"`
	CreatedUTC int64   `cbor:"4,keyasint"`
}

// PreKeyPublic is the published half of a one-time prekey.
type PreKeyPublic struct {
	ID        uint32       `json:"id"`
	PublicKey X25519Public `json:"public_key"`
}

// SignedPreKeyPublic is the published half of a signed prekey.
type SignedPreKeyPublic struct {
	ID        uint32       `json:"id"`
	PublicKey X25519Public `json:"public_key"`
	Signature []byte       `json:"signature"`
}

// PreKeyBundle is what a peer publishes so others can start a session with
// it while it is offline. PreKey is optional.
type PreKeyBundle struct {
	IdentityKey    IdentityKey        `json:"identity_key"`
	RegistrationID uint32             `json:"registration_id"`
	PreKey         *PreKeyPublic      `json:"pre_key,omitempty"`
	SignedPreKey   SignedPreKeyPublic `json:"signed_pre_key"`
}
