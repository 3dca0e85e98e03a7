package totemwire

import "encoding/binary"

// RtrEntry is one retransmit-request slot carried on the ORF token
// (spec.md §4.3 steps 3-4).
type RtrEntry struct {
	RingID RingID
	Seq    uint32
}

// OrfToken is the Ordering, Reliability, Flow-control token: the single
// rotating authority for sequence assignment and retransmit requests
// (spec.md §4.1, §4.3).
type OrfToken struct {
	Header       Header
	Seq          uint32
	TokenSeq     uint32
	Aru          uint32
	AruAddr      uint32 // nodeid, 0 means "unset"
	RingID       RingID
	FCC          uint32 // flow-control credits consumed this circulation
	RetransFlag  bool
	RtrList      []RtrEntry
}

func EncodeOrfToken(t OrfToken) []byte {
	order := binary.BigEndian
	n := len(t.RtrList)
	if n > RetransmitEntriesMax {
		n = RetransmitEntriesMax
	}
	size := HeaderSize + 4 + 4 + 4 + 4 + wireRingIDSize + 4 + 1 + 2 + n*(wireRingIDSize+4)
	buf := make([]byte, size)
	copy(buf, encodeHeader(order, TypeOrfToken, t.Header.Encapsulated, t.Header.Originator))
	o := HeaderSize
	order.PutUint32(buf[o:], t.Seq)
	o += 4
	order.PutUint32(buf[o:], t.TokenSeq)
	o += 4
	order.PutUint32(buf[o:], t.Aru)
	o += 4
	order.PutUint32(buf[o:], t.AruAddr)
	o += 4
	encodeRingID(order, buf[o:o+wireRingIDSize], t.RingID)
	o += wireRingIDSize
	order.PutUint32(buf[o:], t.FCC)
	o += 4
	if t.RetransFlag {
		buf[o] = 1
	}
	o++
	order.PutUint16(buf[o:], uint16(n))
	o += 2
	for i := 0; i < n; i++ {
		encodeRingID(order, buf[o:o+wireRingIDSize], t.RtrList[i].RingID)
		o += wireRingIDSize
		order.PutUint32(buf[o:], t.RtrList[i].Seq)
		o += 4
	}
	return buf
}

func decodeOrfToken(h Header, order binary.ByteOrder, data []byte) (*OrfToken, error) {
	if err := need(data, 4+4+4+4+wireRingIDSize+4+1+2); err != nil {
		return nil, err
	}
	o := 0
	t := &OrfToken{Header: h}
	t.Seq = order.Uint32(data[o:])
	o += 4
	t.TokenSeq = order.Uint32(data[o:])
	o += 4
	t.Aru = order.Uint32(data[o:])
	o += 4
	t.AruAddr = order.Uint32(data[o:])
	o += 4
	t.RingID = decodeRingID(order, data[o:o+wireRingIDSize])
	o += wireRingIDSize
	t.FCC = order.Uint32(data[o:])
	o += 4
	t.RetransFlag = data[o] != 0
	o++
	n := int(order.Uint16(data[o:]))
	o += 2
	if n > RetransmitEntriesMax {
		return nil, errTruncated
	}
	if err := need(data[o:], n*(wireRingIDSize+4)); err != nil {
		return nil, err
	}
	t.RtrList = make([]RtrEntry, n)
	for i := 0; i < n; i++ {
		t.RtrList[i].RingID = decodeRingID(order, data[o:o+wireRingIDSize])
		o += wireRingIDSize
		t.RtrList[i].Seq = order.Uint32(data[o:])
		o += 4
	}
	return t, nil
}
