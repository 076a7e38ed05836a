package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sesame/internal/domain"
	"sesame/internal/metrics"
	"sesame/internal/protocol/ratchet"
	"sesame/internal/protocol/record"
	"sesame/internal/protocol/wire"
	"sesame/internal/services/session"
)

// Options configures a Cipher. Zero values select defaults.
type Options struct {
	RatchetLimits ratchet.Limits
	RecordLimits  record.Limits
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Now           func() time.Time
}

// Info summarises the sessions held for one address.
type Info struct {
	HasCurrent           bool
	Pending              bool
	PreviousStates       int
	RemoteIdentity       domain.IdentityKey
	RemoteRegistrationID uint32
}

// Cipher encrypts and decrypts messages for many addresses.
//
// High-level flow:
//   - Encrypt: advance the current state's sending chain. While the
//     handshake is unconfirmed the output is a PreKeyBundle message that
//     carries the handshake header; afterwards it is a Whisper message.
//   - Decrypt: a PreKeyBundle message is matched to a state by base key, or
//     a responder state is built for it. A Whisper message is tried against
//     the current state and then every previous one. The state that opens
//     the message becomes current.
//
// Every operation runs under the address lock shared with the builder and
// commits nothing unless it succeeds.
type Cipher struct {
	store   domain.ProtocolStore
	builder *session.Builder

	limits       ratchet.Limits
	recordLimits record.Limits
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// New returns a Cipher. It shares builder's per-address lock.
func New(store domain.ProtocolStore, builder *session.Builder, opts Options) *Cipher {
	c := &Cipher{
		store:        store,
		builder:      builder,
		limits:       opts.RatchetLimits,
		recordLimits: opts.RecordLimits,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if c.limits == (ratchet.Limits{}) {
		c.limits = ratchet.DefaultLimits()
	}
	if c.recordLimits == (record.Limits{}) {
		c.recordLimits = record.DefaultLimits()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Encrypt seals plaintext with the current state for address.
func (c *Cipher) Encrypt(ctx context.Context, address domain.Address, plaintext []byte) (domain.Ciphertext, error) {
	unlock, err := c.builder.Locks().Lock(ctx, address.String())
	if err != nil {
		return domain.Ciphertext{}, err
	}
	defer unlock()

	rec, err := record.Load(c.store, address)
	if err != nil {
		return domain.Ciphertext{}, err
	}
	if !record.HasOpenSession(rec) {
		return domain.Ciphertext{}, fmt.Errorf("encrypt for %s: %w", address, domain.ErrNoSession)
	}

	next, msg, err := ratchet.Encrypt(rec.Current, plaintext)
	if err != nil {
		return domain.Ciphertext{}, fmt.Errorf("encrypt for %s: %w", address, err)
	}
	next.LastUsedUnix = c.now().Unix()

	var out domain.Ciphertext
	if p := next.PendingPreKey; p != nil {
		hdr := &wire.PreKeyWhisperMessage{
			RegistrationID: next.LocalRegistrationID,
			PreKeyID:       p.PreKeyID,
			SignedPreKeyID: p.SignedPreKeyID,
			BaseKey:        p.BaseKey,
			IdentityKey:    next.LocalIdentity,
			Message:        msg,
		}
		out = domain.Ciphertext{Type: domain.PreKeyBundleMessageType, Body: hdr.Marshal()}
	} else {
		out = domain.Ciphertext{Type: domain.WhisperMessageType, Body: msg.Marshal()}
	}

	rec.Current = next
	if err := record.Save(c.store, address, rec); err != nil {
		return domain.Ciphertext{}, err
	}
	c.metrics.MessageEncrypted(out.Type)
	return out, nil
}

// Decrypt opens ct from address.
func (c *Cipher) Decrypt(ctx context.Context, address domain.Address, ct domain.Ciphertext) ([]byte, error) {
	unlock, err := c.builder.Locks().Lock(ctx, address.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger := c.logger.With(zap.String("site", "Decrypt"), zap.Stringer("address", address), zap.Stringer("type", ct.Type))

	var pt []byte
	switch ct.Type {
	case domain.WhisperMessageType:
		pt, err = c.decryptWhisper(logger, address, ct.Body)
	case domain.PreKeyBundleMessageType:
		pt, err = c.decryptPreKey(ctx, logger, address, ct.Body)
	default:
		err = fmt.Errorf("decrypt from %s: %w: unknown message type %d", address, domain.ErrInvalidMessage, ct.Type)
	}
	if err != nil {
		c.metrics.DecryptFailed(err)
		if errors.Is(err, domain.ErrDuplicateMessage) {
			logger.Warn("duplicate message")
		}
		return nil, err
	}
	c.metrics.MessageDecrypted(ct.Type)
	return pt, nil
}

func (c *Cipher) decryptWhisper(logger *zap.Logger, address domain.Address, body []byte) ([]byte, error) {
	msg, err := wire.ParseWhisper(body)
	if err != nil {
		return nil, fmt.Errorf("decrypt from %s: %w", address, err)
	}
	rec, err := record.Load(c.store, address)
	if err != nil {
		return nil, err
	}
	states := record.States(rec)
	if len(states) == 0 {
		return nil, fmt.Errorf("decrypt from %s: %w", address, domain.ErrNoSession)
	}

	var best error
	for i, st := range states {
		next, pt, err := ratchet.Decrypt(st, c.limits, msg)
		if err != nil {
			best = betterError(best, err)
			continue
		}

		trusted, err := c.store.IsTrustedIdentity(address, next.RemoteIdentity)
		if err != nil {
			return nil, err
		}
		if !trusted {
			return nil, fmt.Errorf("decrypt from %s: %w", address, domain.ErrUntrustedIdentity)
		}

		if err := c.commit(address, rec, i, next); err != nil {
			return nil, err
		}
		if i > 0 {
			logger.Debug("promoted previous state", zap.Int("index", i))
		}
		return pt, nil
	}
	return nil, fmt.Errorf("decrypt from %s: %w", address, best)
}

func (c *Cipher) decryptPreKey(ctx context.Context, logger *zap.Logger, address domain.Address, body []byte) ([]byte, error) {
	msg, err := wire.ParsePreKeyWhisper(body)
	if err != nil {
		return nil, fmt.Errorf("decrypt from %s: %w", address, err)
	}

	trusted, err := c.store.IsTrustedIdentity(address, msg.IdentityKey)
	if err != nil {
		return nil, err
	}
	if !trusted {
		logger.Warn("handshake identity differs from pinned key")
		return nil, fmt.Errorf("decrypt from %s: %w", address, domain.ErrUntrustedIdentity)
	}

	rec, err := record.Load(c.store, address)
	if err != nil {
		return nil, err
	}

	var (
		st       *domain.SessionState
		consumed *uint32
	)
	i, found := record.FindByBaseKey(rec, msg.BaseKey)
	if found {
		st = record.States(rec)[i]
	} else {
		if msg.PreKeyID != nil {
			unlock, err := c.builder.LockPreKey(ctx, *msg.PreKeyID)
			if err != nil {
				return nil, err
			}
			defer unlock()
		}
		st, consumed, err = c.builder.ProcessPreKeyMessage(address, msg)
		if err != nil {
			return nil, err
		}
		i = -1
	}

	next, pt, err := ratchet.Decrypt(st, c.limits, msg.Message)
	if err != nil {
		return nil, fmt.Errorf("decrypt from %s: %w", address, err)
	}

	// The record is written last: a failure before it leaves at most a
	// pinned identity or a spent prekey, never a stored session whose
	// prekey can still be used.
	if err := c.store.SaveIdentity(address, msg.IdentityKey); err != nil {
		return nil, err
	}
	if consumed != nil {
		if err := c.store.RemovePreKey(*consumed); err != nil {
			return nil, fmt.Errorf("remove prekey %d: %w", *consumed, err)
		}
	}
	if err := c.commit(address, rec, i, next); err != nil {
		return nil, err
	}
	if !found {
		c.metrics.SessionBuilt(metrics.RoleResponder)
		logger.Info("session accepted", zap.Bool("oneTimePreKey", consumed != nil), zap.Int("previousStates", len(rec.Previous)))
	}
	return pt, nil
}

// commit makes next current in rec and writes rec. i is the index in
// record.States of the state next was derived from, or -1 for a new state.
func (c *Cipher) commit(address domain.Address, rec *domain.SessionRecord, i int, next *domain.SessionState) error {
	next.PendingPreKey = nil
	now := c.now()
	next.LastUsedUnix = now.Unix()
	if i < 0 {
		record.Insert(rec, next)
	} else {
		record.Promote(rec, i, next)
	}
	record.Prune(rec, c.recordLimits, now)
	return record.Save(c.store, address, rec)
}

// HasOpenSession reports whether address has a current state.
func (c *Cipher) HasOpenSession(ctx context.Context, address domain.Address) (bool, error) {
	info, err := c.SessionInfo(ctx, address)
	if err != nil {
		return false, err
	}
	return info.HasCurrent, nil
}

// SessionInfo describes the record held for address.
func (c *Cipher) SessionInfo(ctx context.Context, address domain.Address) (Info, error) {
	unlock, err := c.builder.Locks().Lock(ctx, address.String())
	if err != nil {
		return Info{}, err
	}
	defer unlock()

	rec, err := record.Load(c.store, address)
	if err != nil {
		return Info{}, err
	}
	info := Info{HasCurrent: record.HasOpenSession(rec), PreviousStates: len(rec.Previous)}
	if info.HasCurrent {
		info.Pending = rec.Current.PendingPreKey != nil
		info.RemoteIdentity = rec.Current.RemoteIdentity
		info.RemoteRegistrationID = rec.Current.RemoteRegistrationID
	}
	return info, nil
}

// betterError keeps the failure that says the most about the message:
// a replay or pruned key outranks a window violation, which outranks a
// plain authentication failure.
func betterError(cur, err error) error {
	if cur == nil || rank(err) > rank(cur) {
		return err
	}
	return cur
}

func rank(err error) int {
	switch {
	case errors.Is(err, domain.ErrDuplicateMessage), errors.Is(err, domain.ErrMessageTooOld):
		return 3
	case errors.Is(err, domain.ErrMessageTooNew):
		return 2
	case errors.Is(err, domain.ErrInvalidMessage):
		return 1
	default:
		return 0
	}
}

// Compile-time assertion that Cipher implements domain.SessionCipher.
var _ domain.SessionCipher = (*Cipher)(nil)
