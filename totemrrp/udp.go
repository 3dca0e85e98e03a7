// Package totemrrp implements the redundant ring protocol transport: a
// UDP socket per configured ring, tuned for low-latency multicast-style
// delivery among the fixed processor set.
//
// Grounded on the teacher's transport/netconn.go (a thin wrapper around
// net.Conn handing Read/Write straight through) and pool/bytepool.go (a
// channel-backed buffer pool); generalized from a generic stream wrapper
// to a UDP packet-oriented transport addressed by totemip.Address, with
// socket buffer tuning via golang.org/x/sys/unix and raw-fd extraction via
// github.com/higebu/netfd for that tuning, per the domain-stack wiring
// those two libraries were pulled in for.
package totemrrp

import (
	"fmt"
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/virtualsync/totemsrp/pool"
	"github.com/virtualsync/totemsrp/totemip"
)

// RecvBufferBytes and SendBufferBytes size the kernel socket buffers large
// enough to absorb a burst of token/mcast traffic without drops, since a
// dropped UDP datagram here means a real retransmit round-trip up at the
// protocol layer.
const (
	RecvBufferBytes = 1 << 20
	SendBufferBytes = 1 << 20
)

// Conn is a single ring's UDP transport: receive frames from any member,
// send frames to a specific member's address.
type Conn struct {
	pc   *net.UDPConn
	bufs pool.BytePool
}

// Listen opens a UDP socket bound to local, tunes its kernel buffers, and
// wraps it for ring use. bufs provides reusable receive buffers sized to
// at least the configured net_mtu.
func Listen(local totemip.Address, bufs pool.BytePool) (*Conn, error) {
	udpAddr := &net.UDPAddr{IP: local.IP, Port: int(local.Port)}
	pc, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("totemrrp: listen %s: %w", local, err)
	}
	if err := tuneSocket(pc); err != nil {
		pc.Close()
		return nil, err
	}
	return &Conn{pc: pc, bufs: bufs}, nil
}

func tuneSocket(pc *net.UDPConn) error {
	fd := netfd.GetFdFromConn(pc)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, RecvBufferBytes); err != nil {
		return fmt.Errorf("totemrrp: set SO_RCVBUF: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, SendBufferBytes); err != nil {
		return fmt.Errorf("totemrrp: set SO_SNDBUF: %w", err)
	}
	return nil
}

// SendTo writes frame to dst. UDP write failures here are transient by
// nature; the engine's own retransmit machinery (spec.md §4.3 steps 3-4)
// is the real reliability layer, not this call succeeding every time.
func (c *Conn) SendTo(dst totemip.Address, frame []byte) error {
	_, err := c.pc.WriteToUDP(frame, &net.UDPAddr{IP: dst.IP, Port: int(dst.Port)})
	return err
}

// RecvFrame blocks until one frame arrives or deadline elapses, returning
// the frame (copied out of a pooled buffer, which is returned to the pool
// before this call returns) and the sender's address.
func (c *Conn) RecvFrame(deadline time.Duration) ([]byte, totemip.Address, error) {
	buf := c.bufs.Get()
	defer c.bufs.Put(buf)
	if deadline > 0 {
		if err := c.pc.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, totemip.Address{}, err
		}
	}
	n, from, err := c.pc.ReadFromUDP(buf)
	if err != nil {
		return nil, totemip.Address{}, err
	}
	frame := append([]byte(nil), buf[:n]...)
	addr, aerr := totemip.FromNetIP(from.IP, uint16(from.Port), 0)
	if aerr != nil {
		return nil, totemip.Address{}, aerr
	}
	return frame, addr, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.pc.Close()
}

// LocalAddr reports the bound local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}
