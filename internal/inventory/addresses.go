package inventory

import (
	"fmt"
	"net/netip"
	"strings"
)

// maxExpanded bounds how many host entries one ip_address cell may produce.
const maxExpanded = 1 << 16

// AddressKind is the shape of an ip_address cell.
type AddressKind int

const (
	KindInvalid AddressKind = iota
	KindSingle
	KindBlock
	KindRange
)

func (k AddressKind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindBlock:
		return "cidr"
	case KindRange:
		return "range"
	default:
		return "invalid"
	}
}

// Classify reports whether value is one address, a CIDR block or an inclusive
// "first-last" range.
func Classify(value string) AddressKind {
	value = strings.TrimSpace(value)
	if _, err := netip.ParsePrefix(value); err == nil {
		return KindBlock
	}
	if lo, hi, ok := strings.Cut(value, "-"); ok {
		if isAddr(lo) && isAddr(hi) {
			return KindRange
		}
		return KindInvalid
	}
	if isAddr(value) {
		return KindSingle
	}
	return KindInvalid
}

func isAddr(s string) bool {
	_, err := netip.ParseAddr(strings.TrimSpace(s))
	return err == nil
}

// ExpandAddress returns the addresses an ip_address cell stands for, in
// ascending order.
func ExpandAddress(value string) ([]string, error) {
	value = strings.TrimSpace(value)

	var first, last netip.Addr
	switch Classify(value) {
	case KindSingle:
		return []string{value}, nil

	case KindBlock:
		p, _ := netip.ParsePrefix(value)
		if p.Addr().BitLen()-p.Bits() > 16 {
			return nil, fmt.Errorf("CIDR block %s exceeds %d addresses", value, maxExpanded)
		}
		first, last = blockBounds(p)

	case KindRange:
		lo, hi, _ := strings.Cut(value, "-")
		first, _ = netip.ParseAddr(strings.TrimSpace(lo))
		last, _ = netip.ParseAddr(strings.TrimSpace(hi))
		if first.Is4() != last.Is4() {
			return nil, fmt.Errorf("range %s mixes IPv4 and IPv6", value)
		}
		if last.Less(first) {
			return nil, fmt.Errorf("range %s ends before it starts", value)
		}

	default:
		return nil, fmt.Errorf("invalid address %q", value)
	}

	return walk(first, last)
}

// blockBounds returns the host span of p. IPv4 blocks wider than /31 exclude
// the network and broadcast addresses.
func blockBounds(p netip.Prefix) (netip.Addr, netip.Addr) {
	first := p.Masked().Addr()

	b := first.AsSlice()
	hostBits := first.BitLen() - p.Bits()
	for i := len(b) - 1; hostBits > 0; i-- {
		n := min(hostBits, 8)
		b[i] |= byte(1<<n - 1)
		hostBits -= n
	}
	last, _ := netip.AddrFromSlice(b)

	if first.Is4() && p.Bits() < 31 {
		return first.Next(), last.Prev()
	}
	return first, last
}

func walk(first, last netip.Addr) ([]string, error) {
	var out []string
	for a := first; ; a = a.Next() {
		if len(out) == maxExpanded {
			return nil, fmt.Errorf("%s-%s exceeds %d addresses", first, last, maxExpanded)
		}
		out = append(out, a.String())
		if a == last {
			return out, nil
		}
	}
}
