package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sesame/internal/domain"
)

func TestIdentityKeyBytes(t *testing.T) {
	var k domain.IdentityKey
	k.DH[0] = 0x01
	k.Signing[31] = 0x02

	b := k.Bytes()
	require.Len(t, b, domain.IdentityKeySize)

	got, ok := domain.IdentityKeyFromBytes(b)
	require.True(t, ok)
	require.True(t, got.Equal(k))

	_, ok = domain.IdentityKeyFromBytes(b[:domain.IdentityKeySize-1])
	require.False(t, ok)
}
