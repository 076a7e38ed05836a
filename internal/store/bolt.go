package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"sesame/internal/domain"
)

const (
	metadataBucket     = "metadata"
	identityBucket     = "identity"
	trustBucket        = "trust"
	preKeyBucket       = "prekeys"
	signedPreKeyBucket = "signed_prekeys"
	sessionBucket      = "sessions"

	versionKey        = "version"
	currentSPKKey     = "current_signed_prekey"
	sealedIdentityKey = "sealed"
	registrationKey   = "registration_id"

	boltVersion = 0
)

// localIdentity is the sealed payload of the identity bucket.
type localIdentity struct {
	Identity       domain.Identity `cbor:"1,keyasint"`
	RegistrationID uint32          `cbor:"2,keyasint"`
}

// BoltStore persists protocol state in a single bbolt file. The local
// identity is sealed under the passphrase given to OpenBolt; everything else
// is stored as CBOR or, for sessions, as the opaque record bytes.
type BoltStore struct {
	db         *bolt.DB
	passphrase string
	params     scryptParams

	mu       sync.Mutex
	identity *localIdentity
}

// BoltOption configures OpenBolt.
type BoltOption func(*BoltStore)

// WithScryptParams overrides the cost of sealing the identity. Tests use it
// to keep scrypt fast.
func WithScryptParams(N, r, p int) BoltOption {
	return func(s *BoltStore) {
		s.params = scryptParams{N: N, r: r, p: p}
	}
}

// OpenBolt creates (or loads) a store in the file f.
func OpenBolt(f, passphrase string, opts ...BoltOption) (*BoltStore, error) {
	s := &BoltStore{passphrase: passphrase, params: scryptParamsDefault()}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.db, err = bolt.Open(f, 0o600, nil)
	if err != nil {
		return nil, err
	}

	if err = s.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exist, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, name := range []string{identityBucket, trustBucket, preKeyBucket, signedPreKeyBucket, sessionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != boltVersion {
				return fmt.Errorf("store: incompatible version: %v", b)
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{boltVersion})
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the database.
func (s *BoltStore) Close() error {
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// SaveIdentityKeyPair seals and stores the local identity.
func (s *BoltStore) SaveIdentityKeyPair(id domain.Identity, registrationID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := localIdentity{Identity: id, RegistrationID: registrationID}
	raw, err := cbor.Marshal(local)
	if err != nil {
		return err
	}
	sealed, err := seal(s.passphrase, raw, s.params)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(identityBucket))
		if err := bkt.Put([]byte(sealedIdentityKey), sealed); err != nil {
			return err
		}
		return bkt.Put([]byte(registrationKey), uint32Key(registrationID))
	}); err != nil {
		return err
	}
	s.identity = &local
	return nil
}

// IdentityKeyPair unseals the local identity. The result is cached for the
// lifetime of the store.
func (s *BoltStore) IdentityKeyPair() (domain.Identity, error) {
	local, err := s.unseal()
	if err != nil {
		return domain.Identity{}, err
	}
	return local.Identity, nil
}

// LocalRegistrationID returns the registration id without unsealing.
func (s *BoltStore) LocalRegistrationID() (uint32, error) {
	var id uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(identityBucket)).Get([]byte(registrationKey))
		if len(b) != 4 {
			return ErrNoIdentity
		}
		id = binary.BigEndian.Uint32(b)
		return nil
	})
	return id, err
}

func (s *BoltStore) unseal() (*localIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity != nil {
		return s.identity, nil
	}
	var sealed []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(identityBucket)).Get([]byte(sealedIdentityKey)); b != nil {
			sealed = append([]byte(nil), b...)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if sealed == nil {
		return nil, ErrNoIdentity
	}
	raw, err := open(s.passphrase, sealed)
	if err != nil {
		return nil, err
	}
	local := new(localIdentity)
	if err := cbor.Unmarshal(raw, local); err != nil {
		return nil, fmt.Errorf("store: decode identity: %w", err)
	}
	s.identity = local
	return local, nil
}

// IsTrustedIdentity reports whether key may be used for address.
func (s *BoltStore) IsTrustedIdentity(address domain.Address, key domain.IdentityKey) (bool, error) {
	pinned, ok, err := s.LoadIdentity(address)
	if err != nil {
		return false, err
	}
	return !ok || pinned.Equal(key), nil
}

// SaveIdentity pins key for address on first use.
func (s *BoltStore) SaveIdentity(address domain.Address, key domain.IdentityKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(trustBucket))
		pinned, ok := domain.IdentityKey{}, false
		if b := bkt.Get(addressKey(address)); b != nil {
			pinned, ok = domain.IdentityKeyFromBytes(b)
			if !ok {
				return fmt.Errorf("store: corrupt trust record for %s", address)
			}
		}
		if err := checkPin(address, pinned, ok, key); err != nil {
			return err
		}
		return bkt.Put(addressKey(address), key.Bytes())
	})
}

// ReplaceIdentity overwrites the pinned key for address.
func (s *BoltStore) ReplaceIdentity(address domain.Address, key domain.IdentityKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(trustBucket)).Put(addressKey(address), key.Bytes())
	})
}

// LoadIdentity returns the pinned key for address.
func (s *BoltStore) LoadIdentity(address domain.Address) (domain.IdentityKey, bool, error) {
	var (
		key domain.IdentityKey
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(trustBucket)).Get(addressKey(address))
		if b == nil {
			return nil
		}
		if key, ok = domain.IdentityKeyFromBytes(b); !ok {
			return fmt.Errorf("store: corrupt trust record for %s", address)
		}
		return nil
	})
	return key, ok, err
}

// StorePreKey adds or replaces a one-time prekey.
func (s *BoltStore) StorePreKey(rec domain.PreKeyRecord) error {
	return s.put(preKeyBucket, uint32Key(rec.ID), rec)
}

// LoadPreKey returns the one-time prekey with id.
func (s *BoltStore) LoadPreKey(id uint32) (domain.PreKeyRecord, bool, error) {
	var rec domain.PreKeyRecord
	ok, err := s.get(preKeyBucket, uint32Key(id), &rec)
	return rec, ok, err
}

// RemovePreKey deletes the one-time prekey with id.
func (s *BoltStore) RemovePreKey(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(preKeyBucket)).Delete(uint32Key(id))
	})
}

// ListPreKeys returns every one-time prekey ordered by id.
func (s *BoltStore) ListPreKeys() ([]domain.PreKeyRecord, error) {
	var out []domain.PreKeyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(preKeyBucket)).ForEach(func(_, v []byte) error {
			var rec domain.PreKeyRecord
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// StoreSignedPreKey adds or replaces a signed prekey.
func (s *BoltStore) StoreSignedPreKey(rec domain.SignedPreKeyRecord) error {
	return s.put(signedPreKeyBucket, uint32Key(rec.ID), rec)
}

// LoadSignedPreKey returns the signed prekey with id.
func (s *BoltStore) LoadSignedPreKey(id uint32) (domain.SignedPreKeyRecord, bool, error) {
	var rec domain.SignedPreKeyRecord
	ok, err := s.get(signedPreKeyBucket, uint32Key(id), &rec)
	return rec, ok, err
}

// SetCurrentSignedPreKeyID records which signed prekey is published.
func (s *BoltStore) SetCurrentSignedPreKeyID(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(signedPreKeyBucket)).Get(uint32Key(id)) == nil {
			return fmt.Errorf("store: unknown signed prekey %d", id)
		}
		return tx.Bucket([]byte(metadataBucket)).Put([]byte(currentSPKKey), uint32Key(id))
	})
}

// CurrentSignedPreKeyID returns the published signed prekey id.
func (s *BoltStore) CurrentSignedPreKeyID() (uint32, bool, error) {
	var (
		id uint32
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(metadataBucket)).Get([]byte(currentSPKKey)); len(b) == 4 {
			id, ok = binary.BigEndian.Uint32(b), true
		}
		return nil
	})
	return id, ok, err
}

// LoadSession returns the serialised record for address.
func (s *BoltStore) LoadSession(address domain.Address) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(sessionBucket)).Get(addressKey(address)); b != nil {
			// Values are only valid for the lifetime of the transaction.
			out = append([]byte(nil), b...)
		}
		return nil
	})
	return out, out != nil, err
}

// StoreSession replaces the serialised record for address.
func (s *BoltStore) StoreSession(address domain.Address, record []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put(addressKey(address), record)
	})
}

func (s *BoltStore) put(bucket string, key []byte, v any) error {
	b, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(key, b)
	})
}

func (s *BoltStore) get(bucket string, key []byte, out any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket)).Get(key)
		if b == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(b, out)
	})
	return found, err
}

func addressKey(a domain.Address) []byte { return []byte(a.String()) }

// uint32Key encodes big-endian so bucket iteration is ordered by id.
func uint32Key(id uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, id)
}

// Compile-time assertion that BoltStore implements domain.ProtocolStore.
var _ domain.ProtocolStore = (*BoltStore)(nil)
