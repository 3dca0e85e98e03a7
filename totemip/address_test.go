package totemip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func addr(t *testing.T, ip string, nodeID uint32) Address {
	t.Helper()
	a, err := FromNetIP(net.ParseIP(ip), 5405, nodeID)
	require.NoError(t, err)
	return a
}

func TestCompareOrdersByAddressBytes(t *testing.T) {
	a1 := addr(t, "10.0.0.1", 1)
	a2 := addr(t, "10.0.0.2", 2)
	a3 := addr(t, "10.0.0.3", 3)

	require.Negative(t, Compare(a1, a2))
	require.Positive(t, Compare(a3, a2))
	require.Zero(t, Compare(a1, a1))
}

func TestLowestPicksRepresentative(t *testing.T) {
	set := []Address{addr(t, "10.0.0.3", 3), addr(t, "10.0.0.1", 1), addr(t, "10.0.0.2", 2)}
	low := Lowest(set)
	require.Equal(t, uint32(1), low.NodeID)
}

func TestCompareV4BeforeV6(t *testing.T) {
	v4 := addr(t, "10.0.0.1", 1)
	v6, err := FromNetIP(net.ParseIP("::1"), 5405, 0)
	require.NoError(t, err)
	require.Negative(t, Compare(v4, v6))
	require.Positive(t, Compare(v6, v4))
}

func TestCompareV6WordWise(t *testing.T) {
	a, err := FromNetIP(net.ParseIP("fe80::1"), 5405, 10)
	require.NoError(t, err)
	b, err := FromNetIP(net.ParseIP("fe80::2"), 5405, 20)
	require.NoError(t, err)
	require.Negative(t, Compare(a, b))
}
