package crypto

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AEADKeySize is the ChaCha20-Poly1305 key size.
	AEADKeySize = chacha20poly1305.KeySize
	// AEADNonceSize is the ChaCha20-Poly1305 nonce size.
	AEADNonceSize = chacha20poly1305.NonceSize
)

// ErrAuthentication is returned by Open when the tag does not verify.
var ErrAuthentication = errors.New("message authentication failed")

// Seal encrypts and authenticates plaintext and ad.
func Seal(key, nonce, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// Open verifies and decrypts ciphertext. Nothing is returned unless the tag
// verifies.
func Open(key, nonce, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}
