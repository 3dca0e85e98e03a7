package totemwire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/virtualsync/totemsrp/totemip"
)

func mustAddr(t *testing.T, ip string, port uint16, nodeID uint32) totemip.Address {
	t.Helper()
	a, err := totemip.FromNetIP(net.ParseIP(ip), port, nodeID)
	require.NoError(t, err)
	return a
}

func TestOrfTokenRoundTrip(t *testing.T) {
	tok := OrfToken{
		Header:      Header{Originator: 3},
		Seq:         42,
		TokenSeq:    7,
		Aru:         41,
		AruAddr:     2,
		RingID:      RingID{Rep: mustAddr(t, "10.0.0.1", 5405, 1), Seq: 9},
		FCC:         5,
		RetransFlag: true,
		RtrList: []RtrEntry{
			{RingID: RingID{Rep: mustAddr(t, "10.0.0.1", 5405, 1), Seq: 9}, Seq: 40},
		},
	}
	wire := EncodeOrfToken(tok)
	got, err := Decode(wire)
	require.NoError(t, err)
	decoded, ok := got.(*OrfToken)
	require.True(t, ok)
	require.Equal(t, tok.Seq, decoded.Seq)
	require.Equal(t, tok.TokenSeq, decoded.TokenSeq)
	require.Equal(t, tok.Aru, decoded.Aru)
	require.Equal(t, tok.RetransFlag, decoded.RetransFlag)
	require.Equal(t, tok.RingID.Seq, decoded.RingID.Seq)
	require.Len(t, decoded.RtrList, 1)
	require.Equal(t, tok.RtrList[0].Seq, decoded.RtrList[0].Seq)

	again := EncodeOrfToken(*decoded)
	require.Equal(t, wire, again)
}

func TestOrfTokenCapsRetransmitEntries(t *testing.T) {
	rtr := make([]RtrEntry, RetransmitEntriesMax+10)
	tok := OrfToken{Header: Header{Originator: 1}, RingID: RingID{Rep: mustAddr(t, "10.0.0.1", 5405, 1)}, RtrList: rtr}
	wire := EncodeOrfToken(tok)
	got, err := Decode(wire)
	require.NoError(t, err)
	decoded := got.(*OrfToken)
	require.Len(t, decoded.RtrList, RetransmitEntriesMax)
}

func TestMcastRoundTrip(t *testing.T) {
	m := Mcast{
		Header:    Header{Originator: 2},
		Seq:       100,
		RingID:    RingID{Rep: mustAddr(t, "10.0.0.2", 5405, 2), Seq: 3},
		Source:    mustAddr(t, "10.0.0.2", 5405, 2),
		Guarantee: Safe,
		Body:      []byte("hello totem"),
	}
	wire := EncodeMcast(m)
	got, err := Decode(wire)
	require.NoError(t, err)
	decoded := got.(*Mcast)
	require.Equal(t, m.Seq, decoded.Seq)
	require.Equal(t, m.Guarantee, decoded.Guarantee)
	require.Equal(t, m.Body, decoded.Body)
	require.True(t, m.Source.Equal(decoded.Source))

	again := EncodeMcast(*decoded)
	require.Equal(t, wire, again)
}

func TestMcastSwappedEndianDecode(t *testing.T) {
	m := Mcast{Header: Header{Originator: 9}, Seq: 55, RingID: RingID{Rep: mustAddr(t, "10.0.0.1", 1, 1)}, Source: mustAddr(t, "10.0.0.1", 1, 1), Body: []byte("x")}
	wire := EncodeMcast(m)
	// Flip the endian-detector bytes to simulate a foreign-order peer and
	// byte-swap every multi-byte field accordingly.
	swapped := append([]byte(nil), wire...)
	swapped[2], swapped[3] = wire[3], wire[2]
	// originator, seq, ring_id (nodeid, port, seq), source (nodeid, port),
	// body length.
	for _, field := range [][2]int{{4, 8}, {8, 12}, {12, 16}, {17, 19}, {35, 43}, {43, 47}, {48, 50}, {67, 71}} {
		for i, j := field[0], field[1]-1; i < j; i, j = i+1, j-1 {
			swapped[i], swapped[j] = swapped[j], swapped[i]
		}
	}
	got, err := Decode(swapped)
	require.NoError(t, err)
	decoded := got.(*Mcast)
	require.Equal(t, m.Seq, decoded.Seq)
}

func TestMembJoinRoundTrip(t *testing.T) {
	mj := MembJoin{
		Header:     Header{Originator: 1},
		RingSeq:    7,
		ProcList:   []totemip.Address{mustAddr(t, "10.0.0.1", 5405, 1), mustAddr(t, "10.0.0.2", 5405, 2)},
		FailedList: []totemip.Address{mustAddr(t, "10.0.0.3", 5405, 3)},
	}
	wire := EncodeMembJoin(mj)
	got, err := Decode(wire)
	require.NoError(t, err)
	decoded := got.(*MembJoin)
	require.Equal(t, mj.RingSeq, decoded.RingSeq)
	require.Len(t, decoded.ProcList, 2)
	require.Len(t, decoded.FailedList, 1)
	require.True(t, mj.ProcList[0].Equal(decoded.ProcList[0]))
}

func TestMembCommitTokenRoundTrip(t *testing.T) {
	ct := MembCommitToken{
		Header:      Header{Originator: 1},
		TokenSeq:    4,
		RingID:      RingID{Rep: mustAddr(t, "10.0.0.1", 5405, 1), Seq: 2},
		RetransFlag: false,
		MembIndex:   1,
		Addr:        []totemip.Address{mustAddr(t, "10.0.0.1", 5405, 1), mustAddr(t, "10.0.0.2", 5405, 2)},
		MembEntries: []CommitEntry{
			{Aru: 10, HighDelivered: 9, ReceivedFlag: true},
			{Aru: 8, HighDelivered: 8, ReceivedFlag: false},
		},
	}
	wire := EncodeMembCommitToken(ct)
	got, err := Decode(wire)
	require.NoError(t, err)
	decoded := got.(*MembCommitToken)
	require.Equal(t, ct.TokenSeq, decoded.TokenSeq)
	require.Equal(t, ct.MembIndex, decoded.MembIndex)
	require.Len(t, decoded.MembEntries, 2)
	require.Equal(t, ct.MembEntries[0], decoded.MembEntries[0])
}

func TestMembMergeDetectAndTokenHoldCancelRoundTrip(t *testing.T) {
	ring := RingID{Rep: mustAddr(t, "10.0.0.1", 5405, 1), Seq: 5}

	md := MembMergeDetect{Header: Header{Originator: 1}, RingID: ring}
	wire := EncodeMembMergeDetect(md)
	got, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, ring.Seq, got.(*MembMergeDetect).RingID.Seq)

	hc := TokenHoldCancel{Header: Header{Originator: 1}, RingID: ring}
	wire = EncodeTokenHoldCancel(hc)
	got, err = Decode(wire)
	require.NoError(t, err)
	require.Equal(t, ring.Seq, got.(*TokenHoldCancel).RingID.Seq)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	m := Mcast{Header: Header{Originator: 1}, RingID: RingID{Rep: mustAddr(t, "10.0.0.1", 1, 1)}, Source: mustAddr(t, "10.0.0.1", 1, 1)}
	wire := EncodeMcast(m)
	wire[0] = 0xFF
	_, err := Decode(wire)
	require.ErrorIs(t, err, ErrUnknownType)
}
