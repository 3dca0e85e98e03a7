// Package totemip implements processor address handling: family-aware
// parsing and the wrap-safe, byte-wise comparison used to pick the ring
// representative (the numerically lowest address in a membership set).
package totemip

import (
	"fmt"
	"net"
)

// Family distinguishes IPv4 from IPv6 addresses on the wire.
type Family byte

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// Address identifies one ring participant: its transport address plus the
// 32-bit nodeid carried in every message header.
type Address struct {
	Family Family
	IP     net.IP // always stored in its natural 4- or 16-byte form
	NodeID uint32
	Port   uint16
}

// FromNetIP builds an Address from a standard library net.IP plus a nodeid.
// When nodeID is zero it is derived from the address (IPv4 or IPv6),
// matching the upstream convention of packing the last four octets of an
// address into the wire nodeid.
func FromNetIP(ip net.IP, port uint16, nodeID uint32) (Address, error) {
	if v4 := ip.To4(); v4 != nil {
		if nodeID == 0 {
			nodeID = uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
		}
		return Address{Family: FamilyV4, IP: v4, NodeID: nodeID, Port: port}, nil
	}
	if v6 := ip.To16(); v6 != nil {
		if nodeID == 0 {
			nodeID = uint32(v6[12])<<24 | uint32(v6[13])<<16 | uint32(v6[14])<<8 | uint32(v6[15])
		}
		return Address{Family: FamilyV6, IP: v6, NodeID: nodeID, Port: port}, nil
	}
	return Address{}, fmt.Errorf("totemip: invalid address %q", ip.String())
}

// String renders the address the way the persisted ring-id filename and
// log lines want it: "<ip>:<port>".
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
}

// Equal reports whether two addresses name the same processor.
func (a Address) Equal(b Address) bool {
	return a.Family == b.Family && a.NodeID == b.NodeID && a.IP.Equal(b.IP)
}

// Compare orders two addresses: family first (v4 before v6), then a
// byte-wise comparison of the address bytes. IPv6 addresses are compared
// 16 bits at a time with the network-byte-order correction spec.md
// requires, so the ordering matches what every ring member computes
// independently from the same proc_list.
//
// Returns <0 if a<b, 0 if equal, >0 if a>b.
func Compare(a, b Address) int {
	if a.Family != b.Family {
		return int(a.Family) - int(b.Family)
	}
	switch a.Family {
	case FamilyV4:
		return compareBytes(a.IP.To4(), b.IP.To4())
	case FamilyV6:
		return compareV6(a.IP.To16(), b.IP.To16())
	default:
		return compareBytes(a.IP, b.IP)
	}
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

// compareV6 compares two 16-byte addresses two bytes (one wire "short") at
// a time, matching the original's word-wise comparison with a
// network-byte-order swap per word rather than a flat memcmp.
func compareV6(a, b []byte) int {
	for i := 0; i+1 < 16; i += 2 {
		wa := uint16(a[i])<<8 | uint16(a[i+1])
		wb := uint16(b[i])<<8 | uint16(b[i+1])
		if wa != wb {
			return int(wa) - int(wb)
		}
	}
	return 0
}

// Lowest returns the address in the set with the minimum Compare ordering.
// Panics if addrs is empty; callers always pass a non-empty proc∖failed set.
func Lowest(addrs []Address) Address {
	lowest := addrs[0]
	for _, a := range addrs[1:] {
		if Compare(a, lowest) < 0 {
			lowest = a
		}
	}
	return lowest
}
