package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"sesame/internal/domain"
	"sesame/internal/protocol/wire"
)

func sampleWhisper() *wire.WhisperMessage {
	m := &wire.WhisperMessage{
		Counter:         7,
		PreviousCounter: 3,
		Ciphertext:      bytes.Repeat([]byte{0xab}, 40),
	}
	for i := range m.RatchetKey {
		m.RatchetKey[i] = byte(i)
	}
	return m
}

func samplePreKey(withPreKey bool) *wire.PreKeyWhisperMessage {
	m := &wire.PreKeyWhisperMessage{
		RegistrationID: 1234,
		SignedPreKeyID: 9,
		Message:        sampleWhisper(),
	}
	if withPreKey {
		id := uint32(42)
		m.PreKeyID = &id
	}
	m.BaseKey[0] = 0xbb
	m.IdentityKey.DH[0] = 0x01
	m.IdentityKey.Signing[31] = 0x02
	return m
}

func TestWhisperLayout(t *testing.T) {
	m := sampleWhisper()
	b := m.Marshal()

	require.Len(t, b, wire.HeaderSize+4+40)
	require.Equal(t, wire.Version, b[0])
	require.Equal(t, m.HeaderBytes(), b[:wire.HeaderSize])
	require.Equal(t, []byte{0, 0, 0, 7}, b[33:37])
	require.Equal(t, []byte{0, 0, 0, 3}, b[37:41])

	got, err := wire.ParseWhisper(b)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestPreKeyWhisperLayout(t *testing.T) {
	for _, withPreKey := range []bool{true, false} {
		m := samplePreKey(withPreKey)
		b := m.Marshal()

		got, err := wire.ParsePreKeyWhisper(b)
		require.NoError(t, err)
		require.Equal(t, m, got)

		if withPreKey {
			require.Equal(t, byte(1), b[5])
		} else {
			require.Equal(t, byte(0), b[5])
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	whisper := sampleWhisper().Marshal()
	prekey := samplePreKey(true).Marshal()

	badVersion := append([]byte(nil), whisper...)
	badVersion[0] = 2

	badLength := append([]byte(nil), whisper...)
	badLength[wire.HeaderSize+3]++

	badPreKeyVersion := append([]byte(nil), prekey...)
	badPreKeyVersion[0] = 9

	badFlags := append([]byte(nil), prekey...)
	badFlags[5] = 0x80

	cases := map[string]struct {
		b     []byte
		parse func([]byte) error
	}{
		"whisper empty":        {nil, parseWhisper},
		"whisper version":      {badVersion, parseWhisper},
		"whisper length":       {badLength, parseWhisper},
		"whisper truncated":    {whisper[:len(whisper)-1], parseWhisper},
		"prekey version":       {badPreKeyVersion, parsePreKey},
		"prekey flags":         {badFlags, parsePreKey},
		"prekey truncated":     {prekey[:60], parsePreKey},
		"prekey trailing":      {append(append([]byte(nil), prekey...), 0), parsePreKey},
		"prekey inner invalid": {badInner(), parsePreKey},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.parse(tc.b)
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrInvalidMessage), "got %v", err)
		})
	}
}

func badInner() []byte {
	m := samplePreKey(false)
	b := m.Marshal()
	// First byte of the embedded whisper message is its version.
	b[len(b)-len(m.Message.Marshal())] = 0x7f
	return b
}

func parseWhisper(b []byte) error {
	_, err := wire.ParseWhisper(b)
	return err
}

func parsePreKey(b []byte) error {
	_, err := wire.ParsePreKeyWhisper(b)
	return err
}
