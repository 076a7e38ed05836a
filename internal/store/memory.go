package store

import (
	"fmt"
	"sort"
	"sync"

	"sesame/internal/domain"
)

// MemoryStore keeps all protocol state in process memory. It is used by
// tests and by callers that persist state themselves.
type MemoryStore struct {
	mu sync.RWMutex

	identity       *domain.Identity
	registrationID uint32

	trusted       map[domain.Address]domain.IdentityKey
	preKeys       map[uint32]domain.PreKeyRecord
	signedPreKeys map[uint32]domain.SignedPreKeyRecord
	currentSPK    *uint32
	sessions      map[domain.Address][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trusted:       make(map[domain.Address]domain.IdentityKey),
		preKeys:       make(map[uint32]domain.PreKeyRecord),
		signedPreKeys: make(map[uint32]domain.SignedPreKeyRecord),
		sessions:      make(map[domain.Address][]byte),
	}
}

// SaveIdentityKeyPair replaces the local identity.
func (s *MemoryStore) SaveIdentityKeyPair(id domain.Identity, registrationID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identity = &id
	s.registrationID = registrationID
	return nil
}

// IdentityKeyPair returns the local identity.
func (s *MemoryStore) IdentityKeyPair() (domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil {
		return domain.Identity{}, ErrNoIdentity
	}
	return *s.identity, nil
}

// LocalRegistrationID returns the local registration id.
func (s *MemoryStore) LocalRegistrationID() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil {
		return 0, ErrNoIdentity
	}
	return s.registrationID, nil
}

// IsTrustedIdentity reports whether key may be used for address.
func (s *MemoryStore) IsTrustedIdentity(address domain.Address, key domain.IdentityKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pinned, ok := s.trusted[address]
	return !ok || pinned.Equal(key), nil
}

// SaveIdentity pins key for address on first use.
func (s *MemoryStore) SaveIdentity(address domain.Address, key domain.IdentityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pinned, ok := s.trusted[address]
	if err := checkPin(address, pinned, ok, key); err != nil {
		return err
	}
	s.trusted[address] = key
	return nil
}

// ReplaceIdentity overwrites the pinned key for address.
func (s *MemoryStore) ReplaceIdentity(address domain.Address, key domain.IdentityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trusted[address] = key
	return nil
}

// LoadIdentity returns the pinned key for address.
func (s *MemoryStore) LoadIdentity(address domain.Address) (domain.IdentityKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.trusted[address]
	return key, ok, nil
}

// StorePreKey adds or replaces a one-time prekey.
func (s *MemoryStore) StorePreKey(rec domain.PreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.preKeys[rec.ID] = rec
	return nil
}

// LoadPreKey returns the one-time prekey with id.
func (s *MemoryStore) LoadPreKey(id uint32) (domain.PreKeyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.preKeys[id]
	return rec, ok, nil
}

// RemovePreKey deletes the one-time prekey with id. Removing a missing id
// is not an error.
func (s *MemoryStore) RemovePreKey(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.preKeys, id)
	return nil
}

// ListPreKeys returns every one-time prekey ordered by id.
func (s *MemoryStore) ListPreKeys() ([]domain.PreKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PreKeyRecord, 0, len(s.preKeys))
	for _, rec := range s.preKeys {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// StoreSignedPreKey adds or replaces a signed prekey.
func (s *MemoryStore) StoreSignedPreKey(rec domain.SignedPreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.signedPreKeys[rec.ID] = rec
	return nil
}

// LoadSignedPreKey returns the signed prekey with id.
func (s *MemoryStore) LoadSignedPreKey(id uint32) (domain.SignedPreKeyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.signedPreKeys[id]
	return rec, ok, nil
}

// SetCurrentSignedPreKeyID records which signed prekey is published.
func (s *MemoryStore) SetCurrentSignedPreKeyID(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.signedPreKeys[id]; !ok {
		return fmt.Errorf("store: unknown signed prekey %d", id)
	}
	s.currentSPK = &id
	return nil
}

// CurrentSignedPreKeyID returns the published signed prekey id.
func (s *MemoryStore) CurrentSignedPreKeyID() (uint32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentSPK == nil {
		return 0, false, nil
	}
	return *s.currentSPK, true, nil
}

// LoadSession returns a copy of the serialised record for address.
func (s *MemoryStore) LoadSession(address domain.Address) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.sessions[address]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

// StoreSession replaces the serialised record for address.
func (s *MemoryStore) StoreSession(address domain.Address, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[address] = append([]byte(nil), record...)
	return nil
}

// Compile-time assertion that MemoryStore implements domain.ProtocolStore.
var _ domain.ProtocolStore = (*MemoryStore)(nil)
