package proto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr is the 6-byte hardware address of a mesh peer. The zero value means unknown.
type Addr [6]byte

var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (a Addr) IsZero() bool {
	return a == Addr{}
}

func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Compact renders the address without separators, as used in topic names.
func (a Addr) Compact() string {
	return strings.ToLower(hex.EncodeToString(a[:]))
}

func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Addr) UnmarshalText(text []byte) error {
	parsed, err := ParseAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddr accepts "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or "aabbccddeeff".
func ParseAddr(s string) (Addr, error) {
	var a Addr
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddr, s)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddr, s)
	}
	copy(a[:], raw)
	return a, nil
}
