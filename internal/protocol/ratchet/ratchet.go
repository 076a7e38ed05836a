package ratchet

import (
	"errors"
	"fmt"

	"sesame/internal/crypto"
	"sesame/internal/domain"
	"sesame/internal/protocol/wire"
	"sesame/internal/util/memzero"
)

const (
	rootInfo    = "sesame-ratchet"
	messageInfo = "sesame-message-keys"
)

var (
	messageSeed = []byte("message")
	chainSeed   = []byte("chain")
)

var errChainUninitialised = errors.New("ratchet chain key is uninitialised")

// Limits bounds the memory a peer can make us spend on one session.
type Limits struct {
	// MaxSkip is the largest counter gap filled in one step.
	MaxSkip int
	// MaxMessageKeys caps the skipped-key cache.
	MaxMessageKeys int
	// MaxReceivingChains caps the number of remote ratchet keys kept.
	MaxReceivingChains int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxSkip: 2000, MaxMessageKeys: 2000, MaxReceivingChains: 5}
}

// InitAsInitiator seeds st for the side that processed a bundle. The base
// key doubles as the first sending ratchet key, so the responder can find the
// chain by the base key it receives in the handshake header.
func InitAsInitiator(st *domain.SessionState, rootKey, chainKey []byte, base domain.KeyPair) {
	st.RootKey = append([]byte(nil), rootKey...)
	st.SendingChain = domain.SendingChain{
		RatchetKey: base,
		Chain:      domain.ChainState{ChainKey: append([]byte(nil), chainKey...)},
	}
	st.ReceivingChains = nil
}

// InitAsResponder seeds st for the bundle owner. The initiator's first chain
// becomes a receiving chain and a fresh ratchet key is generated so replies
// move the ratchet forward immediately.
func InitAsResponder(st *domain.SessionState, rootKey, chainKey []byte, remoteBase domain.X25519Public) error {
	st.ReceivingChains = []domain.ReceivingChain{{
		RatchetKey: remoteBase,
		Chain:      domain.ChainState{ChainKey: append([]byte(nil), chainKey...)},
	}}
	ratchetKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	rk, ck, err := kdfRK(rootKey, ratchetKey.Priv, remoteBase)
	if err != nil {
		return err
	}
	st.RootKey = rk
	st.SendingChain = domain.SendingChain{
		RatchetKey: ratchetKey,
		Chain:      domain.ChainState{ChainKey: ck},
	}
	return nil
}

// Encrypt seals plaintext under the next sending message key. st is not
// modified; the advanced state is returned for the caller to commit.
func Encrypt(st *domain.SessionState, plaintext []byte) (*domain.SessionState, *wire.WhisperMessage, error) {
	next := st.Clone()
	chain := &next.SendingChain.Chain
	mk, err := stepChain(chain)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(mk)

	msg := &wire.WhisperMessage{
		RatchetKey:      next.SendingChain.RatchetKey.Pub,
		Counter:         chain.Counter - 1,
		PreviousCounter: next.PreviousCounter,
	}
	ad := associatedData(next.LocalIdentity, next.RemoteIdentity, msg)
	key, nonce, err := messageKeys(mk)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(key, nonce)
	if msg.Ciphertext, err = crypto.Seal(key, nonce, ad, plaintext); err != nil {
		return nil, nil, err
	}
	return next, msg, nil
}

// Decrypt opens msg against st. All derivation happens on a copy. On success
// the advanced copy is returned; on failure st is untouched and the error
// wraps one of the domain message errors.
func Decrypt(st *domain.SessionState, limits Limits, msg *wire.WhisperMessage) (*domain.SessionState, []byte, error) {
	next := st.Clone()

	mk, err := messageKeyFor(next, limits, msg)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(mk)

	key, nonce, err := messageKeys(mk)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(key, nonce)

	ad := associatedData(next.RemoteIdentity, next.LocalIdentity, msg)
	pt, err := crypto.Open(key, nonce, ad, msg.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return next, pt, nil
}

// messageKeyFor locates or derives the message key for msg, mutating st.
func messageKeyFor(st *domain.SessionState, limits Limits, msg *wire.WhisperMessage) ([]byte, error) {
	if mk, ok := takeSkipped(st, msg.RatchetKey, msg.Counter); ok {
		return mk, nil
	}

	rc := findReceiving(st, msg.RatchetKey)
	if rc == nil {
		if r := findRetired(st, msg.RatchetKey); r != nil {
			return nil, retiredError(r, msg.Counter)
		}
		var err error
		if rc, err = ratchetStep(st, limits, msg); err != nil {
			return nil, err
		}
	}

	if msg.Counter < rc.Chain.Counter {
		if msg.Counter < rc.Floor {
			return nil, fmt.Errorf("%w: counter %d below %d", domain.ErrMessageTooOld, msg.Counter, rc.Floor)
		}
		return nil, fmt.Errorf("%w: counter %d", domain.ErrDuplicateMessage, msg.Counter)
	}
	if err := skipTo(st, limits, rc.RatchetKey, msg.Counter); err != nil {
		return nil, err
	}
	// skipTo may have evicted skipped keys and moved the floor; reload.
	rc = findReceiving(st, msg.RatchetKey)
	return stepChain(&rc.Chain)
}

// ratchetStep handles a message under a ratchet key we have not seen: the
// latest receiving chain is drained to the peer's previous counter, a new
// receiving chain is derived and our sending key rotates.
func ratchetStep(st *domain.SessionState, limits Limits, msg *wire.WhisperMessage) (*domain.ReceivingChain, error) {
	if n := len(st.ReceivingChains); n > 0 {
		if err := skipTo(st, limits, st.ReceivingChains[n-1].RatchetKey, msg.PreviousCounter); err != nil {
			return nil, err
		}
	}
	if uint64(msg.Counter) > uint64(limits.MaxSkip) {
		return nil, fmt.Errorf("%w: counter %d on a new chain", domain.ErrMessageTooNew, msg.Counter)
	}

	rk, recvCK, err := kdfRK(st.RootKey, st.SendingChain.RatchetKey.Priv, msg.RatchetKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	st.ReceivingChains = append(st.ReceivingChains, domain.ReceivingChain{
		RatchetKey: msg.RatchetKey,
		Chain:      domain.ChainState{ChainKey: recvCK},
	})
	if limit := limits.MaxReceivingChains; limit > 0 && len(st.ReceivingChains) > limit {
		drop := len(st.ReceivingChains) - limit
		for _, old := range st.ReceivingChains[:drop] {
			memzero.Zero(old.Chain.ChainKey)
			st.RetiredChains = append(st.RetiredChains, domain.RetiredChain{
				RatchetKey: old.RatchetKey,
				Counter:    old.Chain.Counter,
				Floor:      old.Floor,
			})
		}
		st.ReceivingChains = append([]domain.ReceivingChain(nil), st.ReceivingChains[drop:]...)
		if n := len(st.RetiredChains) - limit; n > 0 {
			st.RetiredChains = append([]domain.RetiredChain(nil), st.RetiredChains[n:]...)
		}
	}

	ratchetKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	rk2, sendCK, err := kdfRK(rk, ratchetKey.Priv, msg.RatchetKey)
	memzero.Zero(rk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	memzero.Zero(st.RootKey, st.SendingChain.Chain.ChainKey)
	st.PreviousCounter = st.SendingChain.Chain.Counter
	st.RootKey = rk2
	st.SendingChain = domain.SendingChain{
		RatchetKey: ratchetKey,
		Chain:      domain.ChainState{ChainKey: sendCK},
	}
	return &st.ReceivingChains[len(st.ReceivingChains)-1], nil
}

// skipTo advances the receiving chain for ratchetKey until its counter equals
// until, caching every key it passes.
func skipTo(st *domain.SessionState, limits Limits, ratchetKey domain.X25519Public, until uint32) error {
	rc := findReceiving(st, ratchetKey)
	if rc == nil || until <= rc.Chain.Counter {
		return nil
	}
	if gap := uint64(until - rc.Chain.Counter); gap > uint64(limits.MaxSkip) {
		return fmt.Errorf("%w: gap of %d exceeds %d", domain.ErrMessageTooNew, gap, limits.MaxSkip)
	}
	for rc.Chain.Counter < until {
		counter := rc.Chain.Counter
		mk, err := stepChain(&rc.Chain)
		if err != nil {
			return err
		}
		st.SkippedKeys = append(st.SkippedKeys, domain.SkippedKey{
			RatchetKey: ratchetKey,
			Counter:    counter,
			MessageKey: mk,
		})
	}
	evictSkipped(st, limits.MaxMessageKeys)
	return nil
}

// evictSkipped drops the oldest cached keys beyond limit and raises the floor
// of their chains so later lookups report them as too old. A non-positive
// limit disables the bound.
func evictSkipped(st *domain.SessionState, limit int) {
	if limit <= 0 || len(st.SkippedKeys) <= limit {
		return
	}
	drop := len(st.SkippedKeys) - limit
	for _, sk := range st.SkippedKeys[:drop] {
		if rc := findReceiving(st, sk.RatchetKey); rc != nil {
			if sk.Counter >= rc.Floor {
				rc.Floor = sk.Counter + 1
			}
		} else if r := findRetired(st, sk.RatchetKey); r != nil && sk.Counter >= r.Floor {
			r.Floor = sk.Counter + 1
		}
		memzero.Zero(sk.MessageKey)
	}
	st.SkippedKeys = append([]domain.SkippedKey(nil), st.SkippedKeys[drop:]...)
}

// takeSkipped removes and returns a cached key. Each key is usable once.
func takeSkipped(st *domain.SessionState, ratchetKey domain.X25519Public, counter uint32) ([]byte, bool) {
	for i, sk := range st.SkippedKeys {
		if sk.Counter == counter && sk.RatchetKey == ratchetKey {
			st.SkippedKeys = append(st.SkippedKeys[:i:i], st.SkippedKeys[i+1:]...)
			return sk.MessageKey, true
		}
	}
	return nil, false
}

func findReceiving(st *domain.SessionState, ratchetKey domain.X25519Public) *domain.ReceivingChain {
	for i := range st.ReceivingChains {
		if st.ReceivingChains[i].RatchetKey == ratchetKey {
			return &st.ReceivingChains[i]
		}
	}
	return nil
}

func findRetired(st *domain.SessionState, ratchetKey domain.X25519Public) *domain.RetiredChain {
	for i := range st.RetiredChains {
		if st.RetiredChains[i].RatchetKey == ratchetKey {
			return &st.RetiredChains[i]
		}
	}
	return nil
}

// retiredError classifies a message for a dropped chain whose key was not
// cached. Counters the chain never reached can no longer be derived.
func retiredError(r *domain.RetiredChain, counter uint32) error {
	if counter < r.Counter && counter >= r.Floor {
		return fmt.Errorf("%w: counter %d on a retired chain", domain.ErrDuplicateMessage, counter)
	}
	return fmt.Errorf("%w: counter %d on a retired chain", domain.ErrMessageTooOld, counter)
}

// stepChain returns the chain's next message key and advances it. The old
// chain key is wiped.
func stepChain(c *domain.ChainState) ([]byte, error) {
	if len(c.ChainKey) == 0 {
		return nil, errChainUninitialised
	}
	mk := crypto.HMAC(c.ChainKey, messageSeed)
	next := crypto.HMAC(c.ChainKey, chainSeed)
	memzero.Zero(c.ChainKey)
	c.ChainKey = next
	c.Counter++
	return mk, nil
}

// kdfRK mixes a fresh DH output into the root key.
func kdfRK(rootKey []byte, priv domain.X25519Private, pub domain.X25519Public) (newRoot, chainKey []byte, err error) {
	dh, err := crypto.DH(priv, pub)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(dh[:])
	okm, err := crypto.KDF(dh[:], rootKey, []byte(rootInfo), 64)
	if err != nil {
		return nil, nil, err
	}
	return okm[:32:32], okm[32:], nil
}

// messageKeys expands a message key into an AEAD key and nonce.
func messageKeys(mk []byte) (key, nonce []byte, err error) {
	okm, err := crypto.KDF(mk, nil, []byte(messageInfo), crypto.AEADKeySize+crypto.AEADNonceSize)
	if err != nil {
		return nil, nil, err
	}
	return okm[:crypto.AEADKeySize:crypto.AEADKeySize], okm[crypto.AEADKeySize:], nil
}

func associatedData(sender, receiver domain.IdentityKey, msg *wire.WhisperMessage) []byte {
	ad := make([]byte, 0, 2*domain.IdentityKeySize+wire.HeaderSize)
	ad = append(ad, sender.Bytes()...)
	ad = append(ad, receiver.Bytes()...)
	return append(ad, msg.HeaderBytes()...)
}
