package totemmemb

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemwire"
)

func addr(t *testing.T, ip string, nodeID uint32) totemip.Address {
	t.Helper()
	a, err := totemip.FromNetIP(net.ParseIP(ip), 5405, nodeID)
	require.NoError(t, err)
	return a
}

func TestIsRepresentativePicksLowestLive(t *testing.T) {
	p1 := addr(t, "10.0.0.1", 1)
	p2 := addr(t, "10.0.0.2", 2)
	p3 := addr(t, "10.0.0.3", 3)

	m := New(p2, totemwire.RingID{Rep: p1})
	m.MergeProc([]totemip.Address{p1, p3})
	require.False(t, m.IsRepresentative())

	m.AddFailed(p1)
	require.True(t, m.IsRepresentative())
}

func TestJoinProcessConsensusReachesCommit(t *testing.T) {
	p1 := addr(t, "10.0.0.1", 1)
	p2 := addr(t, "10.0.0.2", 2)
	p3 := addr(t, "10.0.0.3", 3)

	m := New(p1, totemwire.RingID{Rep: p1})
	m.MergeProc([]totemip.Address{p2, p3})

	out := m.JoinProcess(JoinView{Sender: p2, ProcList: m.ProcList})
	require.Equal(t, JoinConsensusRecorded, out)

	out = m.JoinProcess(JoinView{Sender: p3, ProcList: m.ProcList})
	require.Equal(t, JoinReadyForCommit, out)
}

func TestJoinProcessIgnoresSubset(t *testing.T) {
	p1 := addr(t, "10.0.0.1", 1)
	p2 := addr(t, "10.0.0.2", 2)
	p3 := addr(t, "10.0.0.3", 3)

	m := New(p1, totemwire.RingID{Rep: p1})
	m.MergeProc([]totemip.Address{p2, p3})

	out := m.JoinProcess(JoinView{Sender: p2, ProcList: []totemip.Address{p1, p2}})
	require.Equal(t, JoinIgnoredSubset, out)
}

func TestJoinProcessMergesNewInformation(t *testing.T) {
	p1 := addr(t, "10.0.0.1", 1)
	p2 := addr(t, "10.0.0.2", 2)
	p4 := addr(t, "10.0.0.4", 4)

	m := New(p1, totemwire.RingID{Rep: p1})
	m.MergeProc([]totemip.Address{p2})

	out := m.JoinProcess(JoinView{Sender: p2, ProcList: []totemip.Address{p1, p2, p4}})
	require.Equal(t, JoinMerged, out)
	require.Len(t, m.ProcList, 3)
}

func TestIntersectJoinedLeft(t *testing.T) {
	p1 := addr(t, "10.0.0.1", 1)
	p2 := addr(t, "10.0.0.2", 2)
	p3 := addr(t, "10.0.0.3", 3)

	prior := []totemip.Address{p1, p2}
	next := []totemip.Address{p2, p3}

	require.ElementsMatch(t, []totemip.Address{p2}, Intersect(prior, next))
	require.ElementsMatch(t, []totemip.Address{p3}, Joined(prior, next))
	require.ElementsMatch(t, []totemip.Address{p1}, Left(prior, next))
}

func TestCommitTokenRotationCompletes(t *testing.T) {
	p1 := addr(t, "10.0.0.1", 1)
	p2 := addr(t, "10.0.0.2", 2)
	ct := NewCommitToken([]totemip.Address{p1, p2})

	done := ct.StampSelf(1, PriorRingState{ARU: 10})
	require.False(t, done)
	hop, ok := ct.NextHop()
	require.True(t, ok)
	require.Equal(t, p2.NodeID, hop.NodeID)

	done = ct.StampSelf(2, PriorRingState{ARU: 8})
	require.True(t, done)
	_, ok = ct.NextHop()
	require.False(t, ok)
}

func TestPlanRecoveryComputesLowAruAndHighDelivered(t *testing.T) {
	p1 := addr(t, "10.0.0.1", 1)
	p2 := addr(t, "10.0.0.2", 2)
	entries := []PriorRingState{{ARU: 5, HighDelivered: 20}, {ARU: 9, HighDelivered: 15}}
	plan := PlanRecovery([]totemip.Address{p1, p2}, []totemip.Address{p1, p2}, entries)
	require.Equal(t, uint32(5), plan.LowRingAru)
	require.Equal(t, uint32(20), plan.HighRingDelivered)

	lo, hi, ok := plan.RetransmitRange(18)
	require.True(t, ok)
	require.Equal(t, uint32(6), lo)
	require.Equal(t, uint32(18), hi)

	_, _, ok = plan.RetransmitRange(5)
	require.False(t, ok)
}
