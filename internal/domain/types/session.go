package types

// ChainState is one symmetric ratchet chain. Counter is the index of the
// next message key the chain will produce.
type ChainState struct {
	ChainKey []byte `cbor:"1,keyasint"`
	Counter  uint32 `cbor:"2,keyasint"`
}

// SendingChain pairs our current ratchet key pair with the chain it seeds.
type SendingChain struct {
	RatchetKey KeyPair    `cbor:"1,keyasint"`
	Chain      ChainState `cbor:"2,keyasint"`
}

// ReceivingChain is the chain derived for one remote ratchet public key.
// Floor is the lowest counter whose skipped key may still be cached; keys
// below it were pruned.
type ReceivingChain struct {
	RatchetKey X25519Public `cbor:"1,keyasint"`
	Chain      ChainState   `cbor:"2,keyasint"`
	Floor      uint32       `cbor:"3,keyasint"`
}

// RetiredChain remembers how far a receiving chain got before it was
// dropped, so replays under its ratchet key are still recognised.
type RetiredChain struct {
	RatchetKey X25519Public `cbor:"1,keyasint"`
	Counter    uint32       `cbor:"2,keyasint"`
	Floor      uint32       `cbor:"3,keyasint"`
}

// SkippedKey is a message key derived ahead of time so an out-of-order
// message can still be opened.
type SkippedKey struct {
	RatchetKey X25519Public `cbor:"1,keyasint"`
	Counter    uint32       `cbor:"2,keyasint"`
	MessageKey []byte       `cbor:"3,keyasint"`
}

// PendingPreKey records the handshake parameters an initiator keeps
// attaching to outgoing messages until the peer proves it has the session.
type PendingPreKey struct {
	PreKeyID       *uint32      `cbor:"1,keyasint,omitempty"`
	SignedPreKeyID uint32       `cbor:"2,keyasint"`
	BaseKey        X25519Public `cbor:"3,keyasint"`
}

// SessionState is the ratchet progress for one handshake with a peer.
//
// ReceivingChains is ordered oldest first. SkippedKeys is ordered by
// insertion so the oldest entries are evicted first.
type SessionState struct {
	Version              uint32           `cbor:"1,keyasint"`
	RootKey              []byte           `cbor:"2,keyasint"`
	SendingChain         SendingChain     `cbor:"3,keyasint"`
	ReceivingChains      []ReceivingChain `cbor:"4,keyasint"`
	PreviousCounter      uint32           `cbor:"5,keyasint"`
	RemoteIdentity       IdentityKey      `cbor:"6,keyasint"`
	LocalIdentity        IdentityKey      `cbor:"7,keyasint"`
	RemoteRegistrationID uint32           `cbor:"8,keyasint"`
	LocalRegistrationID  uint32           `cbor:"9,keyasint"`
	BaseKey              X25519Public     `cbor:"10,keyasint"`
	PendingPreKey        *PendingPreKey   `cbor:"11,keyasint,omitempty"`
	SkippedKeys          []SkippedKey     `cbor:"12,keyasint"`
	CreatedUnix          int64            `cbor:"13,keyasint"`
	LastUsedUnix         int64            `cbor:"14,keyasint"`
	RetiredChains        []RetiredChain   `cbor:"15,keyasint"`
}

// SessionRecord is every state kept for one address. Previous is
// most-recent-first and only exists to open messages sent under older
// handshakes.
type SessionRecord struct {
	Current  *SessionState   `cbor:"1,keyasint,omitempty"`
	Previous []*SessionState `cbor:"2,keyasint"`
}

// Clone returns a deep copy so a failed operation can be discarded without
// touching the original.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	c.RootKey = cloneBytes(s.RootKey)
	c.SendingChain.Chain.ChainKey = cloneBytes(s.SendingChain.Chain.ChainKey)
	if s.ReceivingChains != nil {
		c.ReceivingChains = make([]ReceivingChain, len(s.ReceivingChains))
		for i, rc := range s.ReceivingChains {
			rc.Chain.ChainKey = cloneBytes(rc.Chain.ChainKey)
			c.ReceivingChains[i] = rc
		}
	}
	if s.RetiredChains != nil {
		c.RetiredChains = append([]RetiredChain(nil), s.RetiredChains...)
	}
	if s.SkippedKeys != nil {
		c.SkippedKeys = make([]SkippedKey, len(s.SkippedKeys))
		for i, sk := range s.SkippedKeys {
			sk.MessageKey = cloneBytes(sk.MessageKey)
			c.SkippedKeys[i] = sk
		}
	}
	if s.PendingPreKey != nil {
		p := *s.PendingPreKey
		if p.PreKeyID != nil {
			id := *p.PreKeyID
			p.PreKeyID = &id
		}
		c.PendingPreKey = &p
	}
	return &c
}

// Clone returns a deep copy of the record.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := &SessionRecord{Current: r.Current.Clone()}
	if r.Previous != nil {
		c.Previous = make([]*SessionState, len(r.Previous))
		for i, s := range r.Previous {
			c.Previous[i] = s.Clone()
		}
	}
	return c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
