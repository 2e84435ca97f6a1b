// Package addrgen produces candidate IPv4 addresses for the scanner to
// probe, filtering out reserved ranges and addresses already seen.
package addrgen

import (
	"encoding/json"
	"fmt"
)

// Address is an IPv4 address as four unsigned octets. Equality and hashing
// are by the 32-bit integer form (Uint32).
type Address [4]byte

// String renders the address in dotted-quad form.
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// Uint32 returns the address as a big-endian 32-bit integer.
func (a Address) Uint32() uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}

// FromUint32 builds an Address from its 32-bit integer form.
func FromUint32(v uint32) Address {
	return Address{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// Subnet24 returns the /24 subnet key (top three octets) as used by the
// rate limiter table.
func (a Address) Subnet24() uint32 {
	return a.Uint32() >> 8
}

// ParseAddress parses a dotted-quad string into an Address.
func ParseAddress(s string) (Address, error) {
	var a, b, c, d int
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return Address{}, fmt.Errorf("addrgen: invalid address %q", s)
	}
	for _, octet := range [4]int{a, b, c, d} {
		if octet < 0 || octet > 255 {
			return Address{}, fmt.Errorf("addrgen: invalid address %q: octet out of range", s)
		}
	}
	return Address{byte(a), byte(b), byte(c), byte(d)}, nil
}

// MarshalJSON renders the address in dotted-quad form, so catalog JSON
// carries a readable "a.b.c.d" string instead of a raw byte array.
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a dotted-quad string produced by MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CIDR is a base address plus a prefix length in [0, 32].
type CIDR struct {
	Base   Address
	Prefix int
}

// ParseCIDR parses a string of the form "a.b.c.d/n".
func ParseCIDR(s string) (CIDR, error) {
	var a, b, c, d, prefix int
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d/%d", &a, &b, &c, &d, &prefix)
	if err != nil || n != 5 {
		return CIDR{}, fmt.Errorf("addrgen: invalid CIDR %q", s)
	}
	for _, octet := range [4]int{a, b, c, d} {
		if octet < 0 || octet > 255 {
			return CIDR{}, fmt.Errorf("addrgen: invalid CIDR %q: octet out of range", s)
		}
	}
	if prefix < 0 || prefix > 32 {
		return CIDR{}, fmt.Errorf("addrgen: invalid CIDR %q: prefix out of range", s)
	}
	return CIDR{
		Base:   Address{byte(a), byte(b), byte(c), byte(d)},
		Prefix: prefix,
	}, nil
}

// MustParseCIDR is ParseCIDR but panics on error; used for built-in tables.
func MustParseCIDR(s string) CIDR {
	c, err := ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return c
}

// HostBits is the number of bits available for host addresses within the
// block (32 - Prefix).
func (c CIDR) HostBits() uint {
	return uint(32 - c.Prefix)
}

// Mask returns the base address with host bits zeroed.
func (c CIDR) Mask() Address {
	if c.Prefix == 0 {
		return Address{}
	}
	maskBits := uint32(0xFFFFFFFF) << c.HostBits()
	return FromUint32(c.Base.Uint32() & maskBits)
}

// Contains reports whether addr falls within the block.
func (c CIDR) Contains(addr Address) bool {
	if c.Prefix == 0 {
		return true
	}
	maskBits := uint32(0xFFFFFFFF) << c.HostBits()
	return addr.Uint32()&maskBits == c.Mask().Uint32()
}

// DefaultExcludedRanges are the reserved/private blocks excluded from
// candidate generation by default.
func DefaultExcludedRanges() []CIDR {
	return []CIDR{
		MustParseCIDR("10.0.0.0/8"),
		MustParseCIDR("172.16.0.0/12"),
		MustParseCIDR("192.168.0.0/16"),
		MustParseCIDR("127.0.0.0/8"),
		MustParseCIDR("169.254.0.0/16"),
		MustParseCIDR("224.0.0.0/4"),
		MustParseCIDR("240.0.0.0/4"),
	}
}

// IsPublic reports whether addr is outside every block in excluded.
func IsPublic(addr Address, excluded []CIDR) bool {
	for _, c := range excluded {
		if c.Contains(addr) {
			return false
		}
	}
	return true
}
