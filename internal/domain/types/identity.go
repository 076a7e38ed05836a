package types

// Identity holds your long-term X25519 and Ed25519 keys.
type Identity struct {
	XPub   X25519Public   `cbor:"1,keyasint"`
	XPriv  X25519Private  `cbor:"2,keyasint"`
	EdPub  Ed25519Public  `cbor:"3,keyasint"`
	EdPriv Ed25519Private `cbor:"4,keyasint"`
}

// PublicKey returns the identity key peers see in bundles and handshakes.
func (id Identity) PublicKey() IdentityKey {
	return IdentityKey{DH: id.XPub, Signing: id.EdPub}
}
