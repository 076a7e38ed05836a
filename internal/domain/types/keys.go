package types

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is unset.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// KeyPair is an X25519 key pair used for prekeys, base keys and ratchet keys.
type KeyPair struct {
	Priv X25519Private `cbor:"1,keyasint"`
	Pub  X25519Public  `cbor:"2,keyasint"`
}

// IdentityKeySize is the encoded size of an IdentityKey.
const IdentityKeySize = 64

// IdentityKey is the public half of an identity: the X25519 key used in X3DH
// and the Ed25519 key that signs prekeys. Peers pin both halves together.
type IdentityKey struct {
	DH      X25519Public  `cbor:"1,keyasint" json:"dh"`
	Signing Ed25519Public `cbor:"2,keyasint" json:"signing"`
}

// Bytes returns DH || Signing.
func (k IdentityKey) Bytes() []byte {
	out := make([]byte, 0, IdentityKeySize)
	out = append(out, k.DH[:]...)
	return append(out, k.Signing[:]...)
}

// Equal compares two identity keys in constant time.
func (k IdentityKey) Equal(o IdentityKey) bool {
	return subtle.ConstantTimeCompare(k.Bytes(), o.Bytes()) == 1
}

// IsZero reports whether the key is unset.
func (k IdentityKey) IsZero() bool { return k == IdentityKey{} }

// IdentityKeyFromBytes decodes the 64-byte form produced by Bytes.
func IdentityKeyFromBytes(b []byte) (IdentityKey, bool) {
	var k IdentityKey
	if len(b) != IdentityKeySize {
		return k, false
	}
	copy(k.DH[:], b[:32])
	copy(k.Signing[:], b[32:])
	return k, true
}

// MarshalText encodes the key as standard base64 so JSON bundles stay readable.
func (p X25519Public) MarshalText() ([]byte, error) { return marshalKeyText(p[:]) }

// UnmarshalText mirrors MarshalText.
func (p *X25519Public) UnmarshalText(b []byte) error { return unmarshalKeyText(p[:], b) }

// MarshalText encodes the key as standard base64.
func (p Ed25519Public) MarshalText() ([]byte, error) { return marshalKeyText(p[:]) }

// UnmarshalText mirrors MarshalText.
func (p *Ed25519Public) UnmarshalText(b []byte) error { return unmarshalKeyText(p[:], b) }

func marshalKeyText(k []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(k)))
	base64.StdEncoding.Encode(out, k)
	return out, nil
}

func unmarshalKeyText(dst, b []byte) error {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(b)))
	n, err := base64.StdEncoding.Decode(raw, b)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("public key: want %d bytes, got %d", len(dst), n)
	}
	copy(dst, raw[:n])
	return nil
}
