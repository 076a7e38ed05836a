package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"sesame/internal/domain"
)

// Version is the leading byte of every serialised record.
const Version byte = 1

// ErrUnknownVersion is returned by Unmarshal for records written by a
// different layout.
var ErrUnknownVersion = errors.New("record: unknown version")

// Limits bounds the previous states kept in a record.
type Limits struct {
	MaxPreviousSessions int
	MaxSessionAge       time.Duration
}

// DefaultLimits keeps 40 previous states used within the last 30 days.
func DefaultLimits() Limits {
	return Limits{MaxPreviousSessions: 40, MaxSessionAge: 30 * 24 * time.Hour}
}

// States returns the current state followed by the previous states. Index i
// of the result is the index Promote expects.
func States(rec *domain.SessionRecord) []*domain.SessionState {
	if rec == nil {
		return nil
	}
	out := make([]*domain.SessionState, 0, 1+len(rec.Previous))
	if rec.Current != nil {
		out = append(out, rec.Current)
	}
	return append(out, rec.Previous...)
}

// Insert makes st current. The old current state moves to the front of the
// previous list; it is never discarded here.
func Insert(rec *domain.SessionRecord, st *domain.SessionState) {
	if rec.Current != nil {
		rec.Previous = append([]*domain.SessionState{rec.Current}, rec.Previous...)
	}
	rec.Current = st
}

// Promote replaces the state at index i of States(rec) with st and makes it
// current.
func Promote(rec *domain.SessionRecord, i int, st *domain.SessionState) {
	if rec.Current != nil {
		if i == 0 {
			rec.Current = st
			return
		}
		i--
	}
	if i < 0 || i >= len(rec.Previous) {
		Insert(rec, st)
		return
	}
	prev := make([]*domain.SessionState, 0, len(rec.Previous))
	prev = append(prev, rec.Previous[:i]...)
	prev = append(prev, rec.Previous[i+1:]...)
	rec.Previous = prev
	Insert(rec, st)
}

// FindByBaseKey returns the index in States(rec) of the state created by the
// handshake with the given base key.
func FindByBaseKey(rec *domain.SessionRecord, baseKey domain.X25519Public) (int, bool) {
	for i, st := range States(rec) {
		if st.BaseKey == baseKey {
			return i, true
		}
	}
	return -1, false
}

// HasOpenSession reports whether rec has a current state to encrypt with.
func HasOpenSession(rec *domain.SessionRecord) bool {
	return rec != nil && rec.Current != nil
}

// Prune drops previous states beyond the count limit and those not used
// within the age limit. The current state is always kept. Zero limits are
// ignored.
func Prune(rec *domain.SessionRecord, limits Limits, now time.Time) {
	kept := rec.Previous[:0]
	for _, st := range rec.Previous {
		if limits.MaxSessionAge > 0 && now.Sub(lastUsed(st)) > limits.MaxSessionAge {
			continue
		}
		if limits.MaxPreviousSessions > 0 && len(kept) >= limits.MaxPreviousSessions {
			continue
		}
		kept = append(kept, st)
	}
	for i := len(kept); i < len(rec.Previous); i++ {
		rec.Previous[i] = nil
	}
	rec.Previous = kept
}

func lastUsed(st *domain.SessionState) time.Time {
	ts := st.LastUsedUnix
	if ts == 0 {
		ts = st.CreatedUnix
	}
	return time.Unix(ts, 0)
}

// Marshal serialises rec.
func Marshal(rec *domain.SessionRecord) ([]byte, error) {
	body, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("record: encode: %w", err)
	}
	return append([]byte{Version}, body...), nil
}

// Unmarshal parses the output of Marshal.
func Unmarshal(b []byte) (*domain.SessionRecord, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrUnknownVersion)
	}
	if b[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, b[0])
	}
	rec := new(domain.SessionRecord)
	if err := cbor.Unmarshal(b[1:], rec); err != nil {
		return nil, fmt.Errorf("record: decode: %w", err)
	}
	return rec, nil
}

// Load reads the record for address from s. A missing record is returned
// as an empty one.
func Load(s domain.SessionStore, address domain.Address) (*domain.SessionRecord, error) {
	b, ok, err := s.LoadSession(address)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", address, err)
	}
	if !ok {
		return &domain.SessionRecord{}, nil
	}
	rec, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", address, err)
	}
	return rec, nil
}

// Save serialises rec and writes it for address.
func Save(s domain.SessionStore, address domain.Address, rec *domain.SessionRecord) error {
	b, err := Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.StoreSession(address, b); err != nil {
		return fmt.Errorf("store session %s: %w", address, err)
	}
	return nil
}
