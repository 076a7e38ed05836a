package identity

import (
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"sesame/internal/crypto"
	"sesame/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Store is the persistence the identity service needs.
type Store interface {
	domain.IdentityStore
	domain.TrustStore
}

// Service manages the local identity and the identities pinned for peers.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (X3DH and the ratchet).
//   - Ed25519 key pair for signing (for example, signing the signed prekey).
type Service struct {
	store  Store
	logger *zap.Logger
}

// New returns an identity service backed by the given store.
func New(s Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger}
}

// GenerateIdentity creates a new identity and registration id, saves them,
// and returns the identity plus its fingerprint.
func (s *Service) GenerateIdentity() (domain.Identity, domain.Fingerprint, error) {
	id, err := crypto.GenerateIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	regID, err := crypto.GenerateRegistrationID()
	if err != nil {
		return domain.Identity{}, "", err
	}
	if err := s.store.SaveIdentityKeyPair(id, regID); err != nil {
		return domain.Identity{}, "", err
	}

	fp := crypto.IdentityFingerprint(id.PublicKey())
	s.logger.Info("generated identity",
		zap.Stringer("fingerprint", fp),
		zap.Uint32("registrationID", regID))
	return id, fp, nil
}

// FingerprintIdentity returns the fingerprint of the local identity key.
func (s *Service) FingerprintIdentity() (domain.Fingerprint, error) {
	id, err := s.store.IdentityKeyPair()
	if err != nil {
		return "", err
	}
	return crypto.IdentityFingerprint(id.PublicKey()), nil
}

// RemoteFingerprint returns the fingerprint of the key pinned for address.
func (s *Service) RemoteFingerprint(address domain.Address) (domain.Fingerprint, bool, error) {
	key, ok, err := s.store.LoadIdentity(address)
	if err != nil || !ok {
		return "", ok, err
	}
	return crypto.IdentityFingerprint(key), true, nil
}

// TrustIdentity pins key for address even if a different key was pinned.
// It is the explicit override after domain.ErrIdentityKeyChanged and must
// only follow a user decision.
func (s *Service) TrustIdentity(address domain.Address, key domain.IdentityKey) error {
	old, ok, err := s.store.LoadIdentity(address)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceIdentity(address, key); err != nil {
		return fmt.Errorf("trust identity for %s: %w", address, err)
	}
	if ok && !old.Equal(key) {
		s.logger.Warn("identity key replaced",
			zap.Stringer("address", address),
			zap.Stringer("old", crypto.IdentityFingerprint(old)),
			zap.Stringer("new", crypto.IdentityFingerprint(key)))
	}
	return nil
}

// CheckPassphrase enforces the strength policy for passphrases that seal a
// new identity.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
