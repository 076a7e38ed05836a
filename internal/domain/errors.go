package domain

import "errors"

// Failures surfaced by the session builder and cipher. Callers match them
// with errors.Is; they are usually wrapped with the peer address.
var (
	// ErrIdentityKeyChanged means a bundle or store write presented a
	// different identity key for an address that already has one pinned.
	// Only an explicit trust override resolves it.
	ErrIdentityKeyChanged = errors.New("identity key changed")

	// ErrUntrustedIdentity means an incoming message is bound to an identity
	// key that is not the pinned one.
	ErrUntrustedIdentity = errors.New("untrusted identity")

	// ErrInvalidSignature means the signed prekey signature did not verify.
	ErrInvalidSignature = errors.New("invalid signed prekey signature")

	// ErrNoUsablePreKey means the referenced prekey is absent or was
	// already consumed.
	ErrNoUsablePreKey = errors.New("no usable prekey")

	// ErrNoSession means there is no state to encrypt or decrypt with and
	// the message carries no handshake to build one.
	ErrNoSession = errors.New("no session for address")

	// ErrInvalidMessage means the message is malformed or failed
	// authentication.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrDuplicateMessage means the message key for this counter was already
	// used.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrMessageTooOld means the key for this counter was pruned from the
	// skipped-key cache.
	ErrMessageTooOld = errors.New("message too old")

	// ErrMessageTooNew means opening the message would skip more keys than
	// the configured window allows.
	ErrMessageTooNew = errors.New("message too far in the future")
)
