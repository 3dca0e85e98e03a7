package totemwire

import (
	"encoding/binary"

	"github.com/virtualsync/totemsrp/totemip"
)

// MembJoin announces this processor's believed proc/failed sets during
// GATHER (spec.md §4.4).
type MembJoin struct {
	Header     Header
	RingSeq    uint64
	ProcList   []totemip.Address
	FailedList []totemip.Address
}

func encodeAddrList(order binary.ByteOrder, buf []byte, list []totemip.Address) int {
	order.PutUint16(buf, uint16(len(list)))
	o := 2
	for _, a := range list {
		encodeAddress(order, buf[o:o+wireAddrSize], a)
		o += wireAddrSize
	}
	return o
}

func decodeAddrList(order binary.ByteOrder, data []byte) ([]totemip.Address, int, error) {
	if err := need(data, 2); err != nil {
		return nil, 0, err
	}
	n := int(order.Uint16(data))
	if n > MaxProcessors {
		return nil, 0, errTruncated
	}
	o := 2
	if err := need(data[o:], n*wireAddrSize); err != nil {
		return nil, 0, err
	}
	out := make([]totemip.Address, n)
	for i := 0; i < n; i++ {
		out[i] = decodeAddress(order, data[o:o+wireAddrSize])
		o += wireAddrSize
	}
	return out, o, nil
}

func EncodeMembJoin(m MembJoin) []byte {
	order := binary.BigEndian
	size := HeaderSize + 8 + 2 + len(m.ProcList)*wireAddrSize + 2 + len(m.FailedList)*wireAddrSize
	buf := make([]byte, size)
	copy(buf, encodeHeader(order, TypeMembJoin, m.Header.Encapsulated, m.Header.Originator))
	o := HeaderSize
	order.PutUint64(buf[o:], m.RingSeq)
	o += 8
	o += encodeAddrList(order, buf[o:], m.ProcList)
	o += encodeAddrList(order, buf[o:], m.FailedList)
	return buf
}

func decodeMembJoin(h Header, order binary.ByteOrder, data []byte) (*MembJoin, error) {
	if err := need(data, 8); err != nil {
		return nil, err
	}
	m := &MembJoin{Header: h}
	m.RingSeq = order.Uint64(data)
	o := 8
	procs, n, err := decodeAddrList(order, data[o:])
	if err != nil {
		return nil, err
	}
	m.ProcList = procs
	o += n
	failed, n, err := decodeAddrList(order, data[o:])
	if err != nil {
		return nil, err
	}
	m.FailedList = failed
	_ = n
	return m, nil
}

// MembMergeDetect announces awareness of a foreign ring_id, triggering
// GATHER on the receiver when it does not match the local ring (spec.md
// §4.4 transition table).
type MembMergeDetect struct {
	Header Header
	RingID RingID
}

func EncodeMembMergeDetect(m MembMergeDetect) []byte {
	order := binary.BigEndian
	buf := make([]byte, HeaderSize+wireRingIDSize)
	copy(buf, encodeHeader(order, TypeMembMergeDetect, m.Header.Encapsulated, m.Header.Originator))
	encodeRingID(order, buf[HeaderSize:], m.RingID)
	return buf
}

func decodeMembMergeDetect(h Header, order binary.ByteOrder, data []byte) (*MembMergeDetect, error) {
	if err := need(data, wireRingIDSize); err != nil {
		return nil, err
	}
	return &MembMergeDetect{Header: h, RingID: decodeRingID(order, data[:wireRingIDSize])}, nil
}

// TokenHoldCancel tells the representative's peers that a late mcast
// arrived and the token hold should end (spec.md §4.3 step 8).
type TokenHoldCancel struct {
	Header Header
	RingID RingID
}

func EncodeTokenHoldCancel(m TokenHoldCancel) []byte {
	order := binary.BigEndian
	buf := make([]byte, HeaderSize+wireRingIDSize)
	copy(buf, encodeHeader(order, TypeTokenHoldCancel, m.Header.Encapsulated, m.Header.Originator))
	encodeRingID(order, buf[HeaderSize:], m.RingID)
	return buf
}

func decodeTokenHoldCancel(h Header, order binary.ByteOrder, data []byte) (*TokenHoldCancel, error) {
	if err := need(data, wireRingIDSize); err != nil {
		return nil, err
	}
	return &TokenHoldCancel{Header: h, RingID: decodeRingID(order, data[:wireRingIDSize])}, nil
}

// CommitEntry is one per-member slot the commit token accumulates as it
// rotates once around the new membership (spec.md §4.4 COMMIT entry).
type CommitEntry struct {
	Aru           uint32
	HighDelivered uint32
	ReceivedFlag  bool
}

// MembCommitToken carries the prior-ring state for every member of the
// ring being installed, round-robin rotated by MembIndex.
type MembCommitToken struct {
	Header      Header
	TokenSeq    uint32
	RingID      RingID
	RetransFlag bool
	MembIndex   uint32
	Addr        []totemip.Address
	MembEntries []CommitEntry
}

func EncodeMembCommitToken(m MembCommitToken) []byte {
	order := binary.BigEndian
	n := len(m.Addr)
	if n > MaxProcessors {
		n = MaxProcessors
	}
	size := HeaderSize + 4 + wireRingIDSize + 1 + 4 + 2 + n*wireAddrSize + 2 + n*(4+4+1)
	buf := make([]byte, size)
	copy(buf, encodeHeader(order, TypeMembCommitToken, m.Header.Encapsulated, m.Header.Originator))
	o := HeaderSize
	order.PutUint32(buf[o:], m.TokenSeq)
	o += 4
	encodeRingID(order, buf[o:o+wireRingIDSize], m.RingID)
	o += wireRingIDSize
	if m.RetransFlag {
		buf[o] = 1
	}
	o++
	order.PutUint32(buf[o:], m.MembIndex)
	o += 4
	o += encodeAddrList(order, buf[o:], m.Addr[:n])
	order.PutUint16(buf[o:], uint16(n))
	o += 2
	for i := 0; i < n; i++ {
		order.PutUint32(buf[o:], m.MembEntries[i].Aru)
		o += 4
		order.PutUint32(buf[o:], m.MembEntries[i].HighDelivered)
		o += 4
		if m.MembEntries[i].ReceivedFlag {
			buf[o] = 1
		}
		o++
	}
	return buf
}

func decodeMembCommitToken(h Header, order binary.ByteOrder, data []byte) (*MembCommitToken, error) {
	if err := need(data, 4+wireRingIDSize+1+4); err != nil {
		return nil, err
	}
	m := &MembCommitToken{Header: h}
	o := 0
	m.TokenSeq = order.Uint32(data[o:])
	o += 4
	m.RingID = decodeRingID(order, data[o:o+wireRingIDSize])
	o += wireRingIDSize
	m.RetransFlag = data[o] != 0
	o++
	m.MembIndex = order.Uint32(data[o:])
	o += 4
	addrs, n, err := decodeAddrList(order, data[o:])
	if err != nil {
		return nil, err
	}
	m.Addr = addrs
	o += n
	if err := need(data[o:], 2); err != nil {
		return nil, err
	}
	entryCount := int(order.Uint16(data[o:]))
	o += 2
	if entryCount != len(addrs) {
		return nil, errTruncated
	}
	if err := need(data[o:], entryCount*(4+4+1)); err != nil {
		return nil, err
	}
	m.MembEntries = make([]CommitEntry, entryCount)
	for i := 0; i < entryCount; i++ {
		m.MembEntries[i].Aru = order.Uint32(data[o:])
		o += 4
		m.MembEntries[i].HighDelivered = order.Uint32(data[o:])
		o += 4
		m.MembEntries[i].ReceivedFlag = data[o] != 0
		o++
	}
	return m, nil
}
