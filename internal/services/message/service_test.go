package message_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"sesame/internal/domain"
	"sesame/internal/metrics"
	"sesame/internal/services/identity"
	"sesame/internal/services/message"
	"sesame/internal/services/prekey"
	"sesame/internal/services/session"
	"sesame/internal/store"
)

const philosophy = "L'homme est condamné à être libre"

// party is one device with its own store and services.
type party struct {
	address  domain.Address
	store    domain.ProtocolStore
	identity *identity.Service
	prekeys  *prekey.Service
	builder  *session.Builder
	cipher   *message.Cipher
	registry *prometheus.Registry
}

func newParty(t *testing.T, name string, st domain.ProtocolStore) *party {
	t.Helper()
	logger := zaptest.NewLogger(t).Named(name)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	p := &party{
		address:  domain.Address{Name: name, DeviceID: 1},
		store:    st,
		identity: identity.New(st, logger),
		prekeys:  prekey.New(st, logger),
		registry: reg,
	}
	p.builder = session.New(st, session.Options{Metrics: m, Logger: logger})
	p.cipher = message.New(st, p.builder, message.Options{Metrics: m, Logger: logger})

	_, _, err = p.identity.GenerateIdentity()
	require.NoError(t, err)
	_, err = p.prekeys.GenerateSignedPreKey(1)
	require.NoError(t, err)
	_, err = p.prekeys.GeneratePreKeys(1, 5)
	require.NoError(t, err)
	return p
}

type CipherTestSuite struct {
	suite.Suite
	ctx   context.Context
	alice *party
	bob   *party
}

func TestCipherTestSuite(t *testing.T) {
	suite.Run(t, new(CipherTestSuite))
}

func (s *CipherTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.alice = newParty(s.T(), "alice", store.NewMemoryStore())
	s.bob = newParty(s.T(), "bob", store.NewMemoryStore())
}

func (s *CipherTestSuite) bundle(p *party) domain.PreKeyBundle {
	b, err := p.prekeys.LoadPreKeyBundle()
	s.Require().NoError(err)
	return b
}

func (s *CipherTestSuite) encrypt(from, to *party, text string) domain.Ciphertext {
	ct, err := from.cipher.Encrypt(s.ctx, to.address, []byte(text))
	s.Require().NoError(err)
	return ct
}

func (s *CipherTestSuite) decrypt(at, from *party, ct domain.Ciphertext) string {
	pt, err := at.cipher.Decrypt(s.ctx, from.address, ct)
	s.Require().NoError(err)
	return string(pt)
}

// establish runs a handshake from a to b and one message each way.
func (s *CipherTestSuite) establish(a, b *party) {
	s.Require().NoError(a.builder.ProcessPreKeyBundle(s.ctx, b.address, s.bundle(b)))
	s.Equal("hello", s.decrypt(b, a, s.encrypt(a, b, "hello")))
	s.Equal("hi", s.decrypt(a, b, s.encrypt(b, a, "hi")))
}

func (s *CipherTestSuite) storedSession(p *party, peer domain.Address) []byte {
	b, _, err := p.store.LoadSession(peer)
	s.Require().NoError(err)
	return b
}

func (s *CipherTestSuite) TestBasicScenario() {
	s.Require().NoError(s.alice.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, s.bundle(s.bob)))

	ok, err := s.alice.cipher.HasOpenSession(s.ctx, s.bob.address)
	s.Require().NoError(err)
	s.True(ok)

	ct := s.encrypt(s.alice, s.bob, philosophy)
	s.Equal(domain.PreKeyBundleMessageType, ct.Type)

	pt, err := s.bob.cipher.Decrypt(s.ctx, s.alice.address, ct)
	s.Require().NoError(err)
	s.Equal([]byte(philosophy), pt)

	ok, err = s.bob.cipher.HasOpenSession(s.ctx, s.alice.address)
	s.Require().NoError(err)
	s.True(ok)

	reply := s.encrypt(s.bob, s.alice, philosophy)
	s.Equal(domain.WhisperMessageType, reply.Type)

	pt, err = s.alice.cipher.Decrypt(s.ctx, s.bob.address, reply)
	s.Require().NoError(err)
	s.Equal([]byte(philosophy), pt)

	// Bob's reply confirmed the handshake, so Alice stops attaching it.
	info, err := s.alice.cipher.SessionInfo(s.ctx, s.bob.address)
	s.Require().NoError(err)
	s.False(info.Pending)
	s.Equal(domain.WhisperMessageType, s.encrypt(s.alice, s.bob, "again").Type)
}

func (s *CipherTestSuite) TestRoundTrips() {
	s.establish(s.alice, s.bob)
	for i := 0; i < 20; i++ {
		a := fmt.Sprintf("alice says %d", i)
		s.Equal(a, s.decrypt(s.bob, s.alice, s.encrypt(s.alice, s.bob, a)))
		if i%3 == 0 {
			b := fmt.Sprintf("bob says %d", i)
			s.Equal(b, s.decrypt(s.alice, s.bob, s.encrypt(s.bob, s.alice, b)))
		}
	}
}

func (s *CipherTestSuite) TestSimultaneousInitiation() {
	s.Require().NoError(s.alice.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, s.bundle(s.bob)))
	s.Require().NoError(s.bob.builder.ProcessPreKeyBundle(s.ctx, s.alice.address, s.bundle(s.alice)))

	fromAlice := s.encrypt(s.alice, s.bob, "hey bob")
	fromBob := s.encrypt(s.bob, s.alice, "hey alice")
	s.Equal(domain.PreKeyBundleMessageType, fromAlice.Type)
	s.Equal(domain.PreKeyBundleMessageType, fromBob.Type)

	s.Equal("hey bob", s.decrypt(s.bob, s.alice, fromAlice))
	s.Equal("hey alice", s.decrypt(s.alice, s.bob, fromBob))

	for i := 0; i < 50; i++ {
		a := fmt.Sprintf("alice %d", i)
		ct := s.encrypt(s.alice, s.bob, a)
		s.Equal(domain.WhisperMessageType, ct.Type)
		s.Equal(a, s.decrypt(s.bob, s.alice, ct))

		b := fmt.Sprintf("bob %d", i)
		ct = s.encrypt(s.bob, s.alice, b)
		s.Equal(domain.WhisperMessageType, ct.Type)
		s.Equal(b, s.decrypt(s.alice, s.bob, ct))
	}
}

func (s *CipherTestSuite) TestOutOfOrderAndDuplicate() {
	s.Require().NoError(s.alice.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, s.bundle(s.bob)))

	msgs := make([]domain.Ciphertext, 6)
	for i := range msgs {
		msgs[i] = s.encrypt(s.alice, s.bob, fmt.Sprintf("m%d", i))
		s.Equal(domain.PreKeyBundleMessageType, msgs[i].Type)
	}

	// The last handshake message arrives first and builds Bob's session.
	for _, i := range []int{5, 0, 3, 1, 4, 2} {
		s.Equal(fmt.Sprintf("m%d", i), s.decrypt(s.bob, s.alice, msgs[i]))
	}

	before := s.storedSession(s.bob, s.alice.address)
	_, err := s.bob.cipher.Decrypt(s.ctx, s.alice.address, msgs[3])
	s.ErrorIs(err, domain.ErrDuplicateMessage)
	s.Equal(before, s.storedSession(s.bob, s.alice.address))

	// Same after the handshake is confirmed and whisper messages flow.
	s.Equal("ack", s.decrypt(s.alice, s.bob, s.encrypt(s.bob, s.alice, "ack")))
	late := s.encrypt(s.alice, s.bob, "late")
	for i := 0; i < 10; i++ {
		s.decrypt(s.bob, s.alice, s.encrypt(s.alice, s.bob, "filler"))
	}
	s.Equal("late", s.decrypt(s.bob, s.alice, late))
	_, err = s.bob.cipher.Decrypt(s.ctx, s.alice.address, late)
	s.ErrorIs(err, domain.ErrDuplicateMessage)

	n, err := testutil.GatherAndCount(s.bob.registry, "sesame_decrypt_failures_total")
	s.Require().NoError(err)
	s.Equal(1, n, "one series: duplicate")
}

func (s *CipherTestSuite) TestTamperedSignature() {
	b := s.bundle(s.bob)
	b.SignedPreKey.Signature = append([]byte(nil), b.SignedPreKey.Signature...)
	b.SignedPreKey.Signature[0] ^= 0x01

	err := s.alice.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, b)
	s.ErrorIs(err, domain.ErrInvalidSignature)

	ok, err := s.alice.cipher.HasOpenSession(s.ctx, s.bob.address)
	s.Require().NoError(err)
	s.False(ok)

	_, ok, err = s.alice.store.LoadIdentity(s.bob.address)
	s.Require().NoError(err)
	s.False(ok, "a rejected bundle must not pin an identity")
}

func (s *CipherTestSuite) TestChangedIdentity() {
	s.establish(s.alice, s.bob)

	mallory := newParty(s.T(), "mallory", store.NewMemoryStore())
	err := s.alice.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, s.bundle(mallory))
	s.ErrorIs(err, domain.ErrIdentityKeyChanged)

	// The existing session is untouched and still works.
	s.Equal("still bob?", s.decrypt(s.bob, s.alice, s.encrypt(s.alice, s.bob, "still bob?")))

	// Only an explicit override lets the new key through.
	b := s.bundle(mallory)
	s.Require().NoError(s.alice.identity.TrustIdentity(s.bob.address, b.IdentityKey))
	s.Require().NoError(s.alice.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, b))
}

func (s *CipherTestSuite) TestUntrustedIncomingHandshake() {
	s.establish(s.alice, s.bob)
	before := s.storedSession(s.bob, s.alice.address)

	// Mallory claims Alice's address toward Bob.
	mallory := newParty(s.T(), "mallory", store.NewMemoryStore())
	mallory.address = s.alice.address
	s.Require().NoError(mallory.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, s.bundle(s.bob)))
	ct := s.encrypt(mallory, s.bob, "trust me")

	_, err := s.bob.cipher.Decrypt(s.ctx, s.alice.address, ct)
	s.ErrorIs(err, domain.ErrUntrustedIdentity)
	s.Equal(before, s.storedSession(s.bob, s.alice.address))
}

func (s *CipherTestSuite) TestNewPreKeySameIdentity() {
	first := s.bundle(s.bob)
	s.establish(s.alice, s.bob)

	second := s.bundle(s.bob)
	s.Require().NotNil(first.PreKey)
	s.Require().NotNil(second.PreKey)
	s.NotEqual(first.PreKey.ID, second.PreKey.ID)
	s.Equal(first.IdentityKey, second.IdentityKey)

	s.Require().NoError(s.alice.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, second))
	ct := s.encrypt(s.alice, s.bob, "fresh start")
	s.Equal(domain.PreKeyBundleMessageType, ct.Type)
	s.Equal("fresh start", s.decrypt(s.bob, s.alice, ct))
	s.Equal("welcome back", s.decrypt(s.alice, s.bob, s.encrypt(s.bob, s.alice, "welcome back")))

	info, err := s.alice.cipher.SessionInfo(s.ctx, s.bob.address)
	s.Require().NoError(err)
	s.Equal(1, info.PreviousStates)
}

func (s *CipherTestSuite) TestConsumedPreKey() {
	stale := s.bundle(s.bob)
	s.establish(s.alice, s.bob)

	_, ok, err := s.bob.store.LoadPreKey(stale.PreKey.ID)
	s.Require().NoError(err)
	s.False(ok, "the one-time prekey is removed once used")

	carol := newParty(s.T(), "carol", store.NewMemoryStore())
	s.Require().NoError(carol.builder.ProcessPreKeyBundle(s.ctx, s.bob.address, stale))
	_, err = s.bob.cipher.Decrypt(s.ctx, carol.address, s.encrypt(carol, s.bob, "me too"))
	s.ErrorIs(err, domain.ErrNoUsablePreKey)

	ok, err = s.bob.cipher.HasOpenSession(s.ctx, carol.address)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CipherTestSuite) TestTamperedMessageLeavesStateUntouched() {
	s.establish(s.alice, s.bob)
	ct := s.encrypt(s.alice, s.bob, "intact")
	before := s.storedSession(s.bob, s.alice.address)

	bad := domain.Ciphertext{Type: ct.Type, Body: append([]byte(nil), ct.Body...)}
	bad.Body[len(bad.Body)-1] ^= 0xff
	_, err := s.bob.cipher.Decrypt(s.ctx, s.alice.address, bad)
	s.ErrorIs(err, domain.ErrInvalidMessage)
	s.Equal(before, s.storedSession(s.bob, s.alice.address))

	_, err = s.bob.cipher.Decrypt(s.ctx, s.alice.address, domain.Ciphertext{Type: 2, Body: ct.Body})
	s.ErrorIs(err, domain.ErrInvalidMessage)

	_, err = s.bob.cipher.Decrypt(s.ctx, s.alice.address, domain.Ciphertext{Type: ct.Type, Body: ct.Body[:10]})
	s.ErrorIs(err, domain.ErrInvalidMessage)

	s.Equal("intact", s.decrypt(s.bob, s.alice, ct))
}

func (s *CipherTestSuite) TestNoSession() {
	_, err := s.alice.cipher.Encrypt(s.ctx, s.bob.address, []byte("anyone?"))
	s.ErrorIs(err, domain.ErrNoSession)

	s.establish(s.alice, s.bob)
	carol := newParty(s.T(), "carol", store.NewMemoryStore())
	ct := s.encrypt(s.alice, s.bob, "not for carol")
	_, err = carol.cipher.Decrypt(s.ctx, s.alice.address, ct)
	s.ErrorIs(err, domain.ErrNoSession)
}

func (s *CipherTestSuite) TestLockHonoursContext() {
	unlock, err := s.alice.builder.Locks().Lock(s.ctx, s.bob.address.String())
	s.Require().NoError(err)
	defer unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err = s.alice.cipher.Encrypt(ctx, s.bob.address, []byte("blocked"))
	s.ErrorIs(err, context.Canceled)
	err = s.alice.builder.ProcessPreKeyBundle(ctx, s.bob.address, s.bundle(s.bob))
	s.ErrorIs(err, context.Canceled)
}

func (s *CipherTestSuite) TestConcurrentUse() {
	carol := newParty(s.T(), "carol", store.NewMemoryStore())
	s.establish(s.alice, s.bob)
	s.establish(s.alice, carol)

	const n = 20
	cts := make([]domain.Ciphertext, n)
	g, ctx := errgroup.WithContext(s.ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			ct, err := s.alice.cipher.Encrypt(ctx, s.bob.address, []byte(fmt.Sprintf("msg %d", i)))
			cts[i] = ct
			return err
		})
	}
	// A different address proceeds independently.
	g.Go(func() error {
		for i := 0; i < n; i++ {
			ct, err := s.alice.cipher.Encrypt(ctx, carol.address, []byte("to carol"))
			if err != nil {
				return err
			}
			if _, err := carol.cipher.Decrypt(ctx, s.alice.address, ct); err != nil {
				return err
			}
		}
		return nil
	})
	s.Require().NoError(g.Wait())

	var (
		mu  sync.Mutex
		got = make(map[string]bool)
	)
	g, ctx = errgroup.WithContext(s.ctx)
	for i := n - 1; i >= 0; i-- {
		ct := cts[i]
		g.Go(func() error {
			pt, err := s.bob.cipher.Decrypt(ctx, s.alice.address, ct)
			if err != nil {
				return err
			}
			mu.Lock()
			got[string(pt)] = true
			mu.Unlock()
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Len(got, n)
}

func TestBasicScenarioWithBoltStores(t *testing.T) {
	open := func(name string) domain.ProtocolStore {
		st, err := store.OpenBolt(filepath.Join(t.TempDir(), name+".db"), "Correct-Horse-9", store.WithScryptParams(1<<10, 8, 1))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	}
	ctx := context.Background()
	alice := newParty(t, "alice", open("alice"))
	bob := newParty(t, "bob", open("bob"))

	bundle, err := bob.prekeys.LoadPreKeyBundle()
	require.NoError(t, err)
	require.NoError(t, alice.builder.ProcessPreKeyBundle(ctx, bob.address, bundle))

	ct, err := alice.cipher.Encrypt(ctx, bob.address, []byte(philosophy))
	require.NoError(t, err)
	require.Equal(t, domain.PreKeyBundleMessageType, ct.Type)

	pt, err := bob.cipher.Decrypt(ctx, alice.address, ct)
	require.NoError(t, err)
	require.Equal(t, philosophy, string(pt))

	ct, err = bob.cipher.Encrypt(ctx, alice.address, []byte(philosophy))
	require.NoError(t, err)
	require.Equal(t, domain.WhisperMessageType, ct.Type)

	pt, err = alice.cipher.Decrypt(ctx, bob.address, ct)
	require.NoError(t, err)
	require.Equal(t, philosophy, string(pt))
}

// lingeringPreKeyStore holds each LoadPreKey open until a second caller has
// loaded too, or a short timeout passes. Without a claim on the prekey id,
// two handshakes naming the same one-time prekey would both see it.
type lingeringPreKeyStore struct {
	domain.ProtocolStore

	mu    sync.Mutex
	loads int
	both  chan struct{}
}

func (s *lingeringPreKeyStore) LoadPreKey(id uint32) (domain.PreKeyRecord, bool, error) {
	rec, ok, err := s.ProtocolStore.LoadPreKey(id)
	s.mu.Lock()
	s.loads++
	if s.loads == 2 {
		close(s.both)
	}
	s.mu.Unlock()

	select {
	case <-s.both:
	case <-time.After(200 * time.Millisecond):
	}
	return rec, ok, err
}

func TestOneTimePreKeyUsedOnceAcrossAddresses(t *testing.T) {
	ctx := context.Background()
	bob := newParty(t, "bob", &lingeringPreKeyStore{ProtocolStore: store.NewMemoryStore(), both: make(chan struct{})})
	alice := newParty(t, "alice", store.NewMemoryStore())
	carol := newParty(t, "carol", store.NewMemoryStore())

	bundle, err := bob.prekeys.LoadPreKeyBundle()
	require.NoError(t, err)
	require.NotNil(t, bundle.PreKey)

	senders := []*party{alice, carol}
	cts := make([]domain.Ciphertext, len(senders))
	for i, p := range senders {
		require.NoError(t, p.builder.ProcessPreKeyBundle(ctx, bob.address, bundle))
		cts[i], err = p.cipher.Encrypt(ctx, bob.address, []byte("first contact"))
		require.NoError(t, err)
	}

	errs := make([]error, len(senders))
	var wg sync.WaitGroup
	for i, p := range senders {
		wg.Add(1)
		go func(i int, from domain.Address) {
			defer wg.Done()
			_, errs[i] = bob.cipher.Decrypt(ctx, from, cts[i])
		}(i, p.address)
	}
	wg.Wait()

	var accepted, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrNoUsablePreKey):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, refused)

	_, ok, err := bob.store.LoadPreKey(bundle.PreKey.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

// failingStore makes one write fail.
type failingStore struct {
	domain.ProtocolStore
	failRemovePreKey bool
	failStoreSession bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) RemovePreKey(id uint32) error {
	if s.failRemovePreKey {
		return errDiskFull
	}
	return s.ProtocolStore.RemovePreKey(id)
}

func (s *failingStore) StoreSession(address domain.Address, record []byte) error {
	if s.failStoreSession {
		return errDiskFull
	}
	return s.ProtocolStore.StoreSession(address, record)
}

func TestFailedHandshakeWritesLeaveNoUsableSession(t *testing.T) {
	ctx := context.Background()

	t.Run("prekey removal fails", func(t *testing.T) {
		st := &failingStore{ProtocolStore: store.NewMemoryStore()}
		bob := newParty(t, "bob", st)
		alice := newParty(t, "alice", store.NewMemoryStore())

		bundle, err := bob.prekeys.LoadPreKeyBundle()
		require.NoError(t, err)
		require.NoError(t, alice.builder.ProcessPreKeyBundle(ctx, bob.address, bundle))
		ct, err := alice.cipher.Encrypt(ctx, bob.address, []byte("hello"))
		require.NoError(t, err)

		st.failRemovePreKey = true
		_, err = bob.cipher.Decrypt(ctx, alice.address, ct)
		require.ErrorIs(t, err, errDiskFull)

		ok, err := bob.cipher.HasOpenSession(ctx, alice.address)
		require.NoError(t, err)
		require.False(t, ok, "no session may exist while its prekey is still available")

		// Once the store recovers the same handshake succeeds.
		st.failRemovePreKey = false
		pt, err := bob.cipher.Decrypt(ctx, alice.address, ct)
		require.NoError(t, err)
		require.Equal(t, "hello", string(pt))
	})

	t.Run("session write fails", func(t *testing.T) {
		st := &failingStore{ProtocolStore: store.NewMemoryStore()}
		bob := newParty(t, "bob", st)
		alice := newParty(t, "alice", store.NewMemoryStore())

		bundle, err := bob.prekeys.LoadPreKeyBundle()
		require.NoError(t, err)
		require.NoError(t, alice.builder.ProcessPreKeyBundle(ctx, bob.address, bundle))
		ct, err := alice.cipher.Encrypt(ctx, bob.address, []byte("hello"))
		require.NoError(t, err)

		st.failStoreSession = true
		_, err = bob.cipher.Decrypt(ctx, alice.address, ct)
		require.ErrorIs(t, err, errDiskFull)

		// The prekey is spent, so a retry cannot open a second session.
		_, ok, err := st.LoadPreKey(bundle.PreKey.ID)
		require.NoError(t, err)
		require.False(t, ok)
		st.failStoreSession = false
		_, err = bob.cipher.Decrypt(ctx, alice.address, ct)
		require.ErrorIs(t, err, domain.ErrNoUsablePreKey)
	})
}
