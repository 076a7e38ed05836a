package prekey

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sesame/internal/crypto"
	"sesame/internal/domain"
)

// ErrNoSignedPreKey is returned by LoadPreKeyBundle before a signed prekey
// has been generated.
var ErrNoSignedPreKey = errors.New("no signed prekey available")

// Store is the persistence the prekey service needs.
type Store interface {
	domain.IdentityStore
	domain.PreKeyStore
	domain.SignedPreKeyStore
}

// Service manages prekey pairs and builds the public bundle.
type Service struct {
	store  Store
	logger *zap.Logger
}

// New returns a prekey service backed by s.
func New(s Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger}
}

// GeneratePreKeys creates and stores count one-time prekeys with ids
// start, start+1, and so on.
func (s *Service) GeneratePreKeys(start uint32, count int) ([]domain.PreKeyRecord, error) {
	out := make([]domain.PreKeyRecord, 0, count)
	for i := 0; i < count; i++ {
		rec, err := crypto.GeneratePreKey(start + uint32(i))
		if err != nil {
			return nil, err
		}
		if err := s.store.StorePreKey(rec); err != nil {
			return nil, fmt.Errorf("store prekey %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	s.logger.Debug("generated prekeys", zap.Uint32("start", start), zap.Int("count", count))
	return out, nil
}

// GenerateSignedPreKey creates a signed prekey with id and marks it as the
// one published in bundles.
func (s *Service) GenerateSignedPreKey(id uint32) (domain.SignedPreKeyRecord, error) {
	identity, err := s.store.IdentityKeyPair()
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	rec, err := crypto.GenerateSignedPreKey(identity, id)
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	if err := s.store.StoreSignedPreKey(rec); err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	if err := s.store.SetCurrentSignedPreKeyID(id); err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	s.logger.Debug("generated signed prekey", zap.Uint32("id", id))
	return rec, nil
}

// LoadPreKeyBundle assembles the bundle to publish: the local identity, the
// current signed prekey and the lowest-numbered one-time prekey still
// available. Without one-time prekeys the bundle carries none.
func (s *Service) LoadPreKeyBundle() (domain.PreKeyBundle, error) {
	identity, err := s.store.IdentityKeyPair()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	regID, err := s.store.LocalRegistrationID()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	spkID, ok, err := s.store.CurrentSignedPreKeyID()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !ok {
		return domain.PreKeyBundle{}, ErrNoSignedPreKey
	}
	spk, found, err := s.store.LoadSignedPreKey(spkID)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !found {
		return domain.PreKeyBundle{}, ErrNoSignedPreKey
	}

	b := domain.PreKeyBundle{
		IdentityKey:    identity.PublicKey(),
		RegistrationID: regID,
		SignedPreKey: domain.SignedPreKeyPublic{
			ID:        spk.ID,
			PublicKey: spk.KeyPair.Pub,
			Signature: spk.Signature,
		},
	}

	preKeys, err := s.store.ListPreKeys()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if len(preKeys) > 0 {
		b.PreKey = &domain.PreKeyPublic{ID: preKeys[0].ID, PublicKey: preKeys[0].KeyPair.Pub}
	}
	return b, nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
