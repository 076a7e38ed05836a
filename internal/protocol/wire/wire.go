// Package wire encodes ratchet and handshake messages in a fixed, versioned
// big-endian layout.
//
// WhisperMessage:
//
//	u8 version | 32B ratchet key | u32 counter | u32 previous counter |
//	u32 n | nB ciphertext
//
// PreKeyWhisperMessage:
//
//	u8 version | u32 registration id | u8 flags | [u32 one-time prekey id] |
//	u32 signed prekey id | 32B base key | 64B identity key | u32 m |
//	mB WhisperMessage
//
// Bit 0 of flags marks the presence of the one-time prekey id. Every parse
// failure wraps domain.ErrInvalidMessage.
package wire

import (
	"encoding/binary"
	"fmt"

	"sesame/internal/domain"
)

// Version is the only layout this package reads or writes.
const Version byte = 1

const (
	keySize = 32
	tagSize = 16

	// HeaderSize is the authenticated prefix of a WhisperMessage.
	HeaderSize = 1 + keySize + 4 + 4

	whisperMinSize = HeaderSize + 4 + tagSize

	flagPreKeyID byte = 1 << 0
)

// WhisperMessage is a ratchet header plus AEAD ciphertext.
type WhisperMessage struct {
	RatchetKey      domain.X25519Public
	Counter         uint32
	PreviousCounter uint32
	Ciphertext      []byte
}

// HeaderBytes returns the first HeaderSize bytes of the encoding. They are
// bound into the AEAD associated data.
func (m *WhisperMessage) HeaderBytes() []byte {
	b := make([]byte, HeaderSize)
	b[0] = Version
	copy(b[1:], m.RatchetKey[:])
	binary.BigEndian.PutUint32(b[33:], m.Counter)
	binary.BigEndian.PutUint32(b[37:], m.PreviousCounter)
	return b
}

// Marshal encodes the message.
func (m *WhisperMessage) Marshal() []byte {
	out := make([]byte, 0, HeaderSize+4+len(m.Ciphertext))
	out = append(out, m.HeaderBytes()...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(m.Ciphertext)))
	return append(out, m.Ciphertext...)
}

// ParseWhisper decodes a WhisperMessage. The ciphertext is copied.
func ParseWhisper(b []byte) (*WhisperMessage, error) {
	if len(b) < whisperMinSize {
		return nil, malformed("whisper message too short (%d bytes)", len(b))
	}
	if b[0] != Version {
		return nil, malformed("unsupported version %d", b[0])
	}
	m := &WhisperMessage{
		Counter:         binary.BigEndian.Uint32(b[33:]),
		PreviousCounter: binary.BigEndian.Uint32(b[37:]),
	}
	copy(m.RatchetKey[:], b[1:33])
	n := binary.BigEndian.Uint32(b[HeaderSize:])
	body := b[HeaderSize+4:]
	if uint64(n) != uint64(len(body)) {
		return nil, malformed("ciphertext length %d does not match %d remaining bytes", n, len(body))
	}
	m.Ciphertext = append([]byte(nil), body...)
	return m, nil
}

// PreKeyWhisperMessage carries the handshake header the responder needs to
// build its side of the session, followed by the first ratchet message.
type PreKeyWhisperMessage struct {
	RegistrationID uint32
	PreKeyID       *uint32
	SignedPreKeyID uint32
	BaseKey        domain.X25519Public
	IdentityKey    domain.IdentityKey
	Message        *WhisperMessage
}

// Marshal encodes the message.
func (m *PreKeyWhisperMessage) Marshal() []byte {
	inner := m.Message.Marshal()
	out := make([]byte, 0, 1+4+1+4+4+keySize+domain.IdentityKeySize+4+len(inner))
	out = append(out, Version)
	out = binary.BigEndian.AppendUint32(out, m.RegistrationID)
	if m.PreKeyID != nil {
		out = append(out, flagPreKeyID)
		out = binary.BigEndian.AppendUint32(out, *m.PreKeyID)
	} else {
		out = append(out, 0)
	}
	out = binary.BigEndian.AppendUint32(out, m.SignedPreKeyID)
	out = append(out, m.BaseKey[:]...)
	out = append(out, m.IdentityKey.Bytes()...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(inner)))
	return append(out, inner...)
}

// ParsePreKeyWhisper decodes a PreKeyWhisperMessage including its embedded
// WhisperMessage.
func ParsePreKeyWhisper(b []byte) (*PreKeyWhisperMessage, error) {
	r := reader{b: b}
	version := r.u8()
	if r.err == nil && version != Version {
		return nil, malformed("unsupported version %d", version)
	}
	m := &PreKeyWhisperMessage{RegistrationID: r.u32()}
	flags := r.u8()
	if flags&^flagPreKeyID != 0 {
		return nil, malformed("unknown flags %#x", flags)
	}
	if flags&flagPreKeyID != 0 {
		id := r.u32()
		m.PreKeyID = &id
	}
	m.SignedPreKeyID = r.u32()
	copy(m.BaseKey[:], r.bytes(keySize))
	identity := r.bytes(domain.IdentityKeySize)
	n := r.u32()
	inner := r.bytes(int(n))
	if r.err != nil {
		return nil, r.err
	}
	if len(r.b) != 0 {
		return nil, malformed("%d trailing bytes", len(r.b))
	}
	m.IdentityKey, _ = domain.IdentityKeyFromBytes(identity)

	wm, err := ParseWhisper(inner)
	if err != nil {
		return nil, err
	}
	m.Message = wm
	return m, nil
}

type reader struct {
	b   []byte
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b) < n {
		r.err = malformed("prekey message truncated")
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) u8() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidMessage}, args...)...)
}
