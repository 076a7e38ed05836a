package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sesame/internal/crypto"
	"sesame/internal/domain"
	"sesame/internal/metrics"
	"sesame/internal/protocol/ratchet"
	"sesame/internal/protocol/record"
	"sesame/internal/protocol/wire"
	"sesame/internal/protocol/x3dh"
	"sesame/internal/util/addrlock"
)

// StateVersion is stamped on every session state this package creates.
const StateVersion = 1

// Options configures a Builder. Zero values select defaults.
type Options struct {
	Locks   *addrlock.Locker
	Limits  record.Limits
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// Builder turns prekey bundles and incoming handshake headers into session
// states.
//
// It handles:
//   - Verifying the bundle signature and the pinned identity.
//   - Running X3DH as initiator or responder.
//   - Seeding the ratchet for the new state.
//   - Inserting the state into the address's record, archiving the old one.
type Builder struct {
	store   domain.ProtocolStore
	locks   *addrlock.Locker
	limits  record.Limits
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New returns a Builder over store.
func New(store domain.ProtocolStore, opts Options) *Builder {
	b := &Builder{
		store:   store,
		locks:   opts.Locks,
		limits:  opts.Limits,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if b.locks == nil {
		b.locks = addrlock.New()
	}
	if b.limits == (record.Limits{}) {
		b.limits = record.DefaultLimits()
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Locks returns the per-address lock shared with the cipher.
func (b *Builder) Locks() *addrlock.Locker { return b.locks }

// LockPreKey claims one-time prekey id across addresses. Handshakes from
// different addresses naming the same id hold different address locks, so
// the claim must be held from ProcessPreKeyMessage until the key is removed.
func (b *Builder) LockPreKey(ctx context.Context, id uint32) (func(), error) {
	return b.locks.Lock(ctx, "prekey:"+strconv.FormatUint(uint64(id), 10))
}

// ProcessPreKeyBundle runs the initiator handshake against bundle and makes
// the result the current state for address. The new state keeps attaching
// the handshake header to outgoing messages until the peer answers.
//
// Steps:
//  1. Verify the signed prekey signature (ErrInvalidSignature).
//  2. Check the bundle identity against the pin (ErrIdentityKeyChanged).
//  3. Generate a base key and derive the X3DH secrets.
//  4. Insert the new state; the old current state is archived, not dropped.
//  5. Pin the identity on first use.
func (b *Builder) ProcessPreKeyBundle(ctx context.Context, address domain.Address, bundle domain.PreKeyBundle) error {
	logger := b.logger.With(zap.String("site", "ProcessPreKeyBundle"), zap.Stringer("address", address))

	if !x3dh.VerifySignedPreKey(bundle.IdentityKey.Signing, bundle.SignedPreKey.PublicKey, bundle.SignedPreKey.Signature) {
		return fmt.Errorf("bundle for %s: %w", address, domain.ErrInvalidSignature)
	}
	if bundle.PreKey != nil && bundle.PreKey.PublicKey.IsZero() {
		return fmt.Errorf("bundle for %s: prekey %d: %w", address, bundle.PreKey.ID, domain.ErrNoUsablePreKey)
	}

	unlock, err := b.locks.Lock(ctx, address.String())
	if err != nil {
		return err
	}
	defer unlock()

	trusted, err := b.store.IsTrustedIdentity(address, bundle.IdentityKey)
	if err != nil {
		return err
	}
	if !trusted {
		logger.Warn("bundle identity differs from pinned key")
		return fmt.Errorf("bundle for %s: %w", address, domain.ErrIdentityKeyChanged)
	}

	identity, err := b.store.IdentityKeyPair()
	if err != nil {
		return err
	}
	regID, err := b.store.LocalRegistrationID()
	if err != nil {
		return err
	}

	base, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	var peerPreKey *domain.X25519Public
	pending := &domain.PendingPreKey{SignedPreKeyID: bundle.SignedPreKey.ID, BaseKey: base.Pub}
	if bundle.PreKey != nil {
		peerPreKey = &bundle.PreKey.PublicKey
		id := bundle.PreKey.ID
		pending.PreKeyID = &id
	}

	secrets, err := x3dh.InitiatorSecrets(identity.XPriv, base.Priv, bundle.IdentityKey.DH, bundle.SignedPreKey.PublicKey, peerPreKey)
	if err != nil {
		return fmt.Errorf("bundle for %s: %w", address, err)
	}
	defer secrets.Wipe()

	st := b.newState(identity.PublicKey(), regID, bundle.IdentityKey, bundle.RegistrationID)
	st.BaseKey = base.Pub
	st.PendingPreKey = pending
	ratchet.InitAsInitiator(st, secrets.RootKey, secrets.ChainKey, base)

	rec, err := record.Load(b.store, address)
	if err != nil {
		return err
	}
	record.Insert(rec, st)
	record.Prune(rec, b.limits, b.now())
	if err := record.Save(b.store, address, rec); err != nil {
		return err
	}
	if err := b.store.SaveIdentity(address, bundle.IdentityKey); err != nil {
		return err
	}

	b.metrics.SessionBuilt(metrics.RoleInitiator)
	logger.Info("session initiated",
		zap.Uint32("signedPreKeyID", bundle.SignedPreKey.ID),
		zap.Bool("oneTimePreKey", bundle.PreKey != nil),
		zap.Int("previousStates", len(rec.Previous)))
	return nil
}

// ProcessPreKeyMessage builds the responder state for an incoming handshake
// header. The caller must hold the address lock, and LockPreKey for the
// header's one-time prekey id, and commit the state only after the embedded
// message decrypts. The returned prekey id, if any, is
// the one-time prekey to remove once committed.
func (b *Builder) ProcessPreKeyMessage(address domain.Address, msg *wire.PreKeyWhisperMessage) (*domain.SessionState, *uint32, error) {
	logger := b.logger.With(zap.String("site", "ProcessPreKeyMessage"), zap.Stringer("address", address))

	trusted, err := b.store.IsTrustedIdentity(address, msg.IdentityKey)
	if err != nil {
		return nil, nil, err
	}
	if !trusted {
		logger.Warn("handshake identity differs from pinned key")
		return nil, nil, fmt.Errorf("handshake from %s: %w", address, domain.ErrUntrustedIdentity)
	}

	identity, err := b.store.IdentityKeyPair()
	if err != nil {
		return nil, nil, err
	}
	regID, err := b.store.LocalRegistrationID()
	if err != nil {
		return nil, nil, err
	}

	spk, ok, err := b.store.LoadSignedPreKey(msg.SignedPreKeyID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("handshake from %s: signed prekey %d: %w", address, msg.SignedPreKeyID, domain.ErrNoUsablePreKey)
	}

	var (
		preKey   *domain.X25519Private
		consumed *uint32
	)
	if msg.PreKeyID != nil {
		rec, ok, err := b.store.LoadPreKey(*msg.PreKeyID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("handshake from %s: prekey %d: %w", address, *msg.PreKeyID, domain.ErrNoUsablePreKey)
		}
		preKey = &rec.KeyPair.Priv
		id := rec.ID
		consumed = &id
	}

	secrets, err := x3dh.ResponderSecrets(identity.XPriv, spk.KeyPair.Priv, preKey, msg.IdentityKey.DH, msg.BaseKey)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake from %s: %w: %v", address, domain.ErrInvalidMessage, err)
	}
	defer secrets.Wipe()

	st := b.newState(identity.PublicKey(), regID, msg.IdentityKey, msg.RegistrationID)
	st.BaseKey = msg.BaseKey
	if err := ratchet.InitAsResponder(st, secrets.RootKey, secrets.ChainKey, msg.BaseKey); err != nil {
		return nil, nil, err
	}
	logger.Debug("built responder state", zap.Uint32("signedPreKeyID", msg.SignedPreKeyID), zap.Bool("oneTimePreKey", consumed != nil))
	return st, consumed, nil
}

func (b *Builder) newState(local domain.IdentityKey, localRegID uint32, remote domain.IdentityKey, remoteRegID uint32) *domain.SessionState {
	now := b.now().Unix()
	return &domain.SessionState{
		Version:              StateVersion,
		LocalIdentity:        local,
		LocalRegistrationID:  localRegID,
		RemoteIdentity:       remote,
		RemoteRegistrationID: remoteRegID,
		CreatedUnix:          now,
		LastUsedUnix:         now,
	}
}

// Compile-time assertion that Builder implements domain.SessionBuilder.
var _ domain.SessionBuilder = (*Builder)(nil)
