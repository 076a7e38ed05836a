package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Address names a remote peer: a user name plus one of that user's devices.
// Sessions, trust records and locks are all keyed per address.
type Address struct {
	Name     string `json:"name"`
	DeviceID uint32 `json:"device_id"`
}

// String returns "name.device", the form used as a storage key.
func (a Address) String() string {
	return a.Name + "." + strconv.FormatUint(uint64(a.DeviceID), 10)
}

// ParseAddress parses the "name.device" form produced by String.
func ParseAddress(s string) (Address, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return Address{}, fmt.Errorf("invalid address %q: want name.device", s)
	}
	dev, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("invalid device id in %q: %w", s, err)
	}
	return Address{Name: s[:i], DeviceID: uint32(dev)}, nil
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
