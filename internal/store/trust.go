package store

import (
	"errors"
	"fmt"

	"sesame/internal/domain"
)

// ErrNoIdentity is returned before a local identity has been saved.
var ErrNoIdentity = errors.New("store: no local identity")

// checkPin enforces trust on first use: a missing pin or an equal key may
// be saved, a different key may not.
func checkPin(address domain.Address, pinned domain.IdentityKey, ok bool, key domain.IdentityKey) error {
	if ok && !pinned.Equal(key) {
		return fmt.Errorf("save identity for %s: %w", address, domain.ErrIdentityKeyChanged)
	}
	return nil
}
