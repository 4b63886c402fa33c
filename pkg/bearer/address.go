package bearer

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 6-byte link-layer device address.
type Address [6]byte

// ParseAddress parses "AA:BB:CC:DD:EE:FF". '-' is accepted as separator too.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.ReplaceAll(s, "-", ":")
	parts := strings.Split(s, ":")
	if len(parts) != len(a) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		a[i] = b[0]
	}
	return a, nil
}

// String returns the colon-separated upper-case form.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Hex returns the address as 12 upper-case hex digits without separators.
func (a Address) Hex() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ChannelID identifies an open channel on one bearer.
type ChannelID uint16

// LinkHandle identifies the lower-layer link a channel runs on.
type LinkHandle uint16
