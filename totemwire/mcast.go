package totemwire

import (
	"encoding/binary"

	"github.com/virtualsync/totemsrp/totemip"
)

// Mcast carries one application (or re-originated, during recovery)
// message. Encapsulated messages (spec.md §4.4 RECOVERY entry) wrap a
// prior-ring Mcast header inside Body with Header.Encapsulated set.
type Mcast struct {
	Header    Header
	Seq       uint32
	RingID    RingID
	Source    totemip.Address
	Guarantee Guarantee
	Body      []byte
}

func EncodeMcast(m Mcast) []byte {
	order := binary.BigEndian
	size := HeaderSize + 4 + wireRingIDSize + wireAddrSize + 1 + 4 + len(m.Body)
	buf := make([]byte, size)
	copy(buf, encodeHeader(order, TypeMcast, m.Header.Encapsulated, m.Header.Originator))
	o := HeaderSize
	order.PutUint32(buf[o:], m.Seq)
	o += 4
	encodeRingID(order, buf[o:o+wireRingIDSize], m.RingID)
	o += wireRingIDSize
	encodeAddress(order, buf[o:o+wireAddrSize], m.Source)
	o += wireAddrSize
	buf[o] = byte(m.Guarantee)
	o++
	order.PutUint32(buf[o:], uint32(len(m.Body)))
	o += 4
	copy(buf[o:], m.Body)
	return buf
}

func decodeMcast(h Header, order binary.ByteOrder, data []byte) (*Mcast, error) {
	const fixed = 4 + wireRingIDSize + wireAddrSize + 1 + 4
	if err := need(data, fixed); err != nil {
		return nil, err
	}
	o := 0
	m := &Mcast{Header: h}
	m.Seq = order.Uint32(data[o:])
	o += 4
	m.RingID = decodeRingID(order, data[o:o+wireRingIDSize])
	o += wireRingIDSize
	m.Source = decodeAddress(order, data[o:o+wireAddrSize])
	o += wireAddrSize
	m.Guarantee = Guarantee(data[o])
	o++
	bodyLen := int(order.Uint32(data[o:]))
	o += 4
	if err := need(data[o:], bodyLen); err != nil {
		return nil, err
	}
	m.Body = append([]byte(nil), data[o:o+bodyLen]...)
	return m, nil
}
