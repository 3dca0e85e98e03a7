// Package totemwire implements the fixed-layout message codec spec.md §4.1
// and §6 describe: a common 8-byte header shared by all six message types,
// big-endian wire values, and an endian-detector that lets a receiver
// notice a byte-swapped peer and decode accordingly.
//
// Grounded on the teacher's protocol/frame_codec.go (offset-tracked decode
// from a raw []byte returning (frame, consumed, err), with an explicit
// "incomplete frame" return rather than an error) and its direct use of
// encoding/binary rather than unsafe pointer casts. Per spec.md §9's design
// note, conversion is total and pure: Decode picks the byte order implied
// by the header's endian-detector and decodes every field with it, instead
// of decoding once and then swapping bytes in place.
package totemwire

import (
	"encoding/binary"
	"fmt"
)

// MaxProcessors bounds every per-member array on the wire (spec.md §3,
// kept fixed-size per the §9 design note on wire compatibility).
const MaxProcessors = 384

// RetransmitEntriesMax bounds the token's RTR list (spec.md §4.3 step 4).
const RetransmitEntriesMax = 30

// HeaderSize is the fixed common header length: type(1) + encapsulated(1)
// + endian-detector(2) + originator nodeid(4).
const HeaderSize = 8

// EndianDetector is the fixed 16-bit constant every header carries. A
// receiver that reads the byte-swapped value (SwappedEndianDetector)
// knows the sender's multi-byte fields need little-endian decoding.
const EndianDetector uint16 = 0xAA55

// SwappedEndianDetector is EndianDetector with its two bytes exchanged.
const SwappedEndianDetector uint16 = 0x55AA

// Type enumerates the six message types sharing the common header.
type Type byte

const (
	TypeOrfToken Type = iota + 1
	TypeMcast
	TypeMembJoin
	TypeMembMergeDetect
	TypeMembCommitToken
	TypeTokenHoldCancel
)

func (t Type) String() string {
	switch t {
	case TypeOrfToken:
		return "orf_token"
	case TypeMcast:
		return "mcast"
	case TypeMembJoin:
		return "memb_join"
	case TypeMembMergeDetect:
		return "memb_merge_detect"
	case TypeMembCommitToken:
		return "memb_commit_token"
	case TypeTokenHoldCancel:
		return "token_hold_cancel"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Guarantee is the delivery guarantee requested by Mcast (spec.md §6).
type Guarantee byte

const (
	Agreed Guarantee = iota
	Safe
)

// Header is the 8-byte prefix shared by every message.
type Header struct {
	Type           Type
	Encapsulated   bool
	EndianDetector uint16
	Originator     uint32 // originator nodeid
}

// NeedsSwap reports whether a decoded header's detector indicates the
// payload was encoded in the opposite byte order.
func (h Header) NeedsSwap() bool {
	return h.EndianDetector == SwappedEndianDetector
}

func byteOrderFor(detector uint16) (binary.ByteOrder, error) {
	switch detector {
	case EndianDetector:
		return binary.BigEndian, nil
	case SwappedEndianDetector:
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("totemwire: unrecognized endian detector %#x", detector)
	}
}

func encodeHeader(order binary.ByteOrder, t Type, encapsulated bool, originator uint32) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(t)
	if encapsulated {
		buf[1] = 1
	}
	order.PutUint16(buf[2:4], EndianDetector)
	order.PutUint32(buf[4:8], originator)
	return buf
}

func decodeHeader(data []byte) (Header, binary.ByteOrder, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, errTruncated
	}
	detector := binary.BigEndian.Uint16(data[2:4])
	order, err := byteOrderFor(detector)
	if err != nil {
		// Detector bytes might themselves need swapping; try the other
		// fixed order before giving up, since the first two header bytes
		// (type, encapsulated) are single-byte and order independent.
		detector = binary.LittleEndian.Uint16(data[2:4])
		order, err = byteOrderFor(detector)
		if err != nil {
			return Header{}, nil, err
		}
	}
	h := Header{
		Type:           Type(data[0]),
		Encapsulated:   data[1] != 0,
		EndianDetector: detector,
		Originator:     order.Uint32(data[4:8]),
	}
	return h, order, nil
}

// errTruncated is returned by Decode for any frame shorter than its
// declared fixed fields; per spec.md §7 the caller drops such frames
// rather than treating them as fatal.
var errTruncated = fmt.Errorf("totemwire: truncated frame")

// ErrUnknownType is returned by Decode for a header type byte outside the
// six known message types.
var ErrUnknownType = fmt.Errorf("totemwire: unknown message type")

// Decode inspects a raw frame's header and dispatches to the matching
// per-type decoder. The caller is expected to drop the frame (per spec.md
// §7) on any non-nil error rather than propagate it as a protocol fault.
func Decode(data []byte) (any, error) {
	h, order, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	rest := data[HeaderSize:]
	switch h.Type {
	case TypeOrfToken:
		return decodeOrfToken(h, order, rest)
	case TypeMcast:
		return decodeMcast(h, order, rest)
	case TypeMembJoin:
		return decodeMembJoin(h, order, rest)
	case TypeMembMergeDetect:
		return decodeMembMergeDetect(h, order, rest)
	case TypeMembCommitToken:
		return decodeMembCommitToken(h, order, rest)
	case TypeTokenHoldCancel:
		return decodeTokenHoldCancel(h, order, rest)
	default:
		return nil, ErrUnknownType
	}
}

func need(data []byte, n int) error {
	if len(data) < n {
		return errTruncated
	}
	return nil
}
