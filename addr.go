// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import "net/netip"

// Family is the address family of a UDP socket.
type Family int

const (
	// FamilyUnknown is the zero value and matches no socket type.
	FamilyUnknown Family = iota

	// FamilyIPv4 selects "udp4" sockets.
	FamilyIPv4

	// FamilyIPv6 selects "udp6" sockets.
	FamilyIPv6
)

// Network returns the network name to use with [net.ListenConfig].
func (f Family) Network() string {
	switch f {
	case FamilyIPv4:
		return "udp4"
	case FamilyIPv6:
		return "udp6"
	default:
		return ""
	}
}

// String implements [fmt.Stringer].
func (f Family) String() string {
	if network := f.Network(); network != "" {
		return network
	}
	return "unknown"
}

// IsIPv4Literal returns whether address is a dotted-decimal IPv4 address.
func IsIPv4Literal(address string) bool {
	addr, err := netip.ParseAddr(address)
	return err == nil && addr.Is4()
}

// IsIPv6Literal returns whether address is a colon-hex IPv6 address.
//
// IPv4-mapped addresses such as "::ffff:127.0.0.1" are IPv6 literals.
func IsIPv6Literal(address string) bool {
	addr, err := netip.ParseAddr(address)
	return err == nil && addr.Is6()
}

// IsIPLiteral returns whether address is either an IPv4 or an IPv6 literal.
func IsIPLiteral(address string) bool {
	return IsIPv4Literal(address) || IsIPv6Literal(address)
}

// FamilyOf returns the [Family] of a literal address or [FamilyUnknown].
func FamilyOf(address string) Family {
	switch {
	case IsIPv4Literal(address):
		return FamilyIPv4
	case IsIPv6Literal(address):
		return FamilyIPv6
	default:
		return FamilyUnknown
	}
}
