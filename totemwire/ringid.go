package totemwire

import (
	"encoding/binary"
	"net"

	"github.com/virtualsync/totemsrp/totemip"
)

// RingID identifies a ring epoch: the representative processor plus a
// monotonically increasing 64-bit sequence, persisted to stable storage
// per processor (spec.md §3).
type RingID struct {
	Rep totemip.Address
	Seq uint64
}

// wireAddrSize is the fixed on-wire size of an Address: nodeid(4) +
// family(1) + port(2) + 16 address bytes (v4 addresses are stored in the
// IPv4-mapped ::ffff:a.b.c.d form net.IP.To16 produces).
const wireAddrSize = 4 + 1 + 2 + 16

const wireRingIDSize = wireAddrSize + 8

func encodeAddress(order binary.ByteOrder, buf []byte, a totemip.Address) {
	order.PutUint32(buf[0:4], a.NodeID)
	buf[4] = byte(a.Family)
	order.PutUint16(buf[5:7], a.Port)
	ip := a.IP.To16()
	copy(buf[7:23], ip)
}

func decodeAddress(order binary.ByteOrder, buf []byte) totemip.Address {
	nodeID := order.Uint32(buf[0:4])
	family := totemip.Family(buf[4])
	port := order.Uint16(buf[5:7])
	ip := make([]byte, 16)
	copy(ip, buf[7:23])
	netIP := net.IP(ip)
	if family == totemip.FamilyV4 {
		if v4 := netIP.To4(); v4 != nil {
			netIP = v4
		}
	}
	return totemip.Address{Family: family, IP: netIP, NodeID: nodeID, Port: port}
}

func encodeRingID(order binary.ByteOrder, buf []byte, r RingID) {
	encodeAddress(order, buf[0:wireAddrSize], r.Rep)
	order.PutUint64(buf[wireAddrSize:wireAddrSize+8], r.Seq)
}

func decodeRingID(order binary.ByteOrder, buf []byte) RingID {
	rep := decodeAddress(order, buf[0:wireAddrSize])
	seq := order.Uint64(buf[wireAddrSize : wireAddrSize+8])
	return RingID{Rep: rep, Seq: seq}
}
