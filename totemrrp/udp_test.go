package totemrrp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/virtualsync/totemsrp/pool"
	"github.com/virtualsync/totemsrp/totemip"
)

func TestConnSendRecvRoundTrip(t *testing.T) {
	a, err := totemip.FromNetIP(net.ParseIP("127.0.0.1"), 0, 1)
	require.NoError(t, err)
	b, err := totemip.FromNetIP(net.ParseIP("127.0.0.1"), 0, 2)
	require.NoError(t, err)

	bufs := pool.NewSimpleBytePool(4, 2048)
	connA, err := Listen(a, bufs)
	require.NoError(t, err)
	defer connA.Close()
	connB, err := Listen(b, bufs)
	require.NoError(t, err)
	defer connB.Close()

	bAddr := connB.LocalAddr().(*net.UDPAddr)
	dst, err := totemip.FromNetIP(bAddr.IP, uint16(bAddr.Port), 2)
	require.NoError(t, err)

	require.NoError(t, connA.SendTo(dst, []byte("hello ring")))

	frame, from, err := connB.RecvFrame(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello ring", string(frame))
	require.NotEmpty(t, from.IP)
}

func TestSendQueueDrainsInOrder(t *testing.T) {
	a, err := totemip.FromNetIP(net.ParseIP("127.0.0.1"), 0, 1)
	require.NoError(t, err)
	b, err := totemip.FromNetIP(net.ParseIP("127.0.0.1"), 0, 2)
	require.NoError(t, err)

	bufs := pool.NewSimpleBytePool(4, 2048)
	connA, err := Listen(a, bufs)
	require.NoError(t, err)
	defer connA.Close()
	connB, err := Listen(b, bufs)
	require.NoError(t, err)
	defer connB.Close()

	bAddr := connB.LocalAddr().(*net.UDPAddr)
	dst, err := totemip.FromNetIP(bAddr.IP, uint16(bAddr.Port), 2)
	require.NoError(t, err)

	q := NewSendQueue(4)
	require.True(t, q.Enqueue(dst, []byte("first")))
	require.True(t, q.Enqueue(dst, []byte("second")))
	require.NoError(t, q.Drain(connA))
	require.Equal(t, 0, q.Pending())

	f1, _, err := connB.RecvFrame(2 * time.Second)
	require.NoError(t, err)
	f2, _, err := connB.RecvFrame(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, []string{string(f1), string(f2)})
}
