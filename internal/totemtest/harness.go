// Package totemtest wires N in-process totemsrp.Instances together over
// an in-memory, totemrrp-shaped fake transport so the seed scenarios of
// spec.md §8 run without real sockets.
//
// Grounded on the teacher's tests/fake and tests/mocks packages (in-memory
// stand-ins for the real transport/session layer used across its table-
// driven tests), generalized from one stream connection per test to an
// N-node broker keyed by node ID, and on the fakeNet/fakeTransport pair
// already proven in totemsrp's own instance_test.go.
package totemtest

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/virtualsync/totemsrp/totemconfig"
	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemsrp"
)

// frame is one datagram in flight on the fake network, tagged with the
// sender so the receiver's RecvFrame can report it.
type frame struct {
	data []byte
	from totemip.Address
}

// Net is an in-memory broker connecting every registered node by NodeID.
// It replaces totemrrp's UDP sockets for tests, including optional loss
// injection for spec.md §8's "message loss + retransmit" scenario and
// partition support for its "partition and merge" scenario.
type Net struct {
	mu        sync.Mutex
	boxes     map[uint32]chan frame
	partition map[uint32]int // nodeID -> partition id; zero value means "no partition", every node reachable
	dropRate  float64
	dropNext  func() bool
}

// NewNet creates an empty broker. Every node reaches every other node
// until Partition or DropFrames narrows that.
func NewNet() *Net {
	return &Net{boxes: make(map[uint32]chan frame), partition: make(map[uint32]int)}
}

func (n *Net) register(nodeID uint32) chan frame {
	ch := make(chan frame, 256)
	n.mu.Lock()
	n.boxes[nodeID] = ch
	n.mu.Unlock()
	return ch
}

// Partition assigns nodeID to partition p. Frames only cross between nodes
// in the same partition (0 is the default, "no partition" group). Calling
// Partition again with p==0 for every node heals the partition (spec.md
// §8 "partition and merge").
func (n *Net) Partition(nodeID uint32, p int) {
	n.mu.Lock()
	n.partition[nodeID] = p
	n.mu.Unlock()
}

// DropFrames makes deliver drop roughly rate (0..1) of frames from now on,
// exercising spec.md §8's "message loss + retransmit" scenario.
func (n *Net) DropFrames(rate float64) {
	n.mu.Lock()
	n.dropRate = rate
	n.mu.Unlock()
}

func (n *Net) shouldDrop(counter *uint64) bool {
	n.mu.Lock()
	rate := n.dropRate
	n.mu.Unlock()
	if rate <= 0 {
		return false
	}
	*counter++
	// Deterministic decimation rather than math/rand: drops every Nth
	// frame so a test can reason about exactly how many frames were lost.
	step := uint64(1 / rate)
	if step == 0 {
		step = 1
	}
	return *counter%step == 0
}

func (n *Net) reachable(dst, from totemip.Address) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.partition[dst.NodeID] == n.partition[from.NodeID]
}

func (n *Net) send(dst, from totemip.Address, data []byte) {
	if !n.reachable(dst, from) {
		return
	}
	n.mu.Lock()
	ch, ok := n.boxes[dst.NodeID]
	n.mu.Unlock()
	if !ok {
		return
	}
	cp := append([]byte(nil), data...)
	select {
	case ch <- frame{data: cp, from: from}:
	default:
	}
}

// Transport implements totemsrp.Transport over a Net, with per-node drop
// counters so DropFrames decimates each node's outbound stream
// independently.
type Transport struct {
	self        totemip.Address
	in          chan frame
	net         *Net
	dropCounter uint64
}

// NewTransport registers self on net and returns its Transport.
func NewTransport(self totemip.Address, net *Net) *Transport {
	return &Transport{self: self, in: net.register(self.NodeID), net: net}
}

func (t *Transport) SendTo(dst totemip.Address, data []byte) error {
	if t.net.shouldDrop(&t.dropCounter) {
		return nil
	}
	t.net.send(dst, t.self, data)
	return nil
}

func (t *Transport) RecvFrame(deadline time.Duration) ([]byte, totemip.Address, error) {
	select {
	case f := <-t.in:
		return f.data, f.from, nil
	case <-time.After(deadline):
		return nil, totemip.Address{}, timeoutErr{}
	}
}

// timeoutErr satisfies net.Error so totemsrp.Instance.Run's reader
// goroutine treats a Net deadline the same as a real totemrrp.Conn's.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "totemtest: recv timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

// Node bundles one instance with the delivery/confchg observations tests
// assert against.
type Node struct {
	Addr      totemip.Address
	Instance  *totemsrp.Instance
	Transport *Transport

	mu        sync.Mutex
	delivered []string
	confchgs  []totemsrp.ConfChgKind
}

func (n *Node) onDeliver(_ totemip.Address, body []byte, _ bool) {
	if len(body) == 0 {
		return
	}
	n.mu.Lock()
	n.delivered = append(n.delivered, string(body))
	n.mu.Unlock()
}

func (n *Node) onConfChg(kind totemsrp.ConfChgKind, _, _, _ []totemip.Address) {
	n.mu.Lock()
	n.confchgs = append(n.confchgs, kind)
	n.mu.Unlock()
}

// Delivered returns a snapshot of every message body this node's deliver_fn
// has observed so far, in delivery order.
func (n *Node) Delivered() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.delivered...)
}

// ConfChgs returns a snapshot of every configuration-change kind this
// node's confchg_fn has observed so far, in order.
func (n *Node) ConfChgs() []totemsrp.ConfChgKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]totemsrp.ConfChgKind(nil), n.confchgs...)
}

// Ring holds a set of Nodes sharing one Net and running under one
// cancelable context, standing in for a totemrrp-backed deployment.
type Ring struct {
	Net   *Net
	Nodes []*Node

	cancel context.CancelFunc
	done   chan struct{}
}

// fastConfig shortens every timeout so GATHER/COMMIT/RECOVERY converge in
// well under a test's deadline; spec.md's defaults are tuned for a real
// network's RTT, not an in-memory channel.
func fastConfig() totemconfig.Config {
	cfg := totemconfig.Default()
	cfg.TokenTimeout = 200 * time.Millisecond
	cfg.TokenRetransmitTimeout = 40 * time.Millisecond
	cfg.TokenHoldTimeout = 20 * time.Millisecond
	cfg.JoinTimeout = 20 * time.Millisecond
	cfg.ConsensusTimeout = 40 * time.Millisecond
	cfg.MergeTimeout = 40 * time.Millisecond
	cfg.DowncheckTimeout = 200 * time.Millisecond
	cfg.FailToRecvConst = 5
	cfg.SeqnoUnchangedConst = 3
	return cfg
}

// NewRing initializes n nodes at 10.0.0.1..10.0.0.n, port 5405+idx, sharing
// one Net, and returns them unstarted (call Ring.Start to launch Run).
func NewRing(t *testing.T, n int) *Ring {
	t.Helper()
	fakeNet := NewNet()
	r := &Ring{Net: fakeNet}
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.ErrorLevel)

	for idx := 0; idx < n; idx++ {
		ip := net.IPv4(10, 0, 0, byte(idx+1))
		addr, err := totemip.FromNetIP(ip, uint16(5405+idx), uint32(idx+1))
		if err != nil {
			t.Fatalf("totemip.FromNetIP: %v", err)
		}
		tr := NewTransport(addr, fakeNet)
		inst, err := totemsrp.Initialize(fastConfig(), addr, tr, t.TempDir(), log)
		if err != nil {
			t.Fatalf("totemsrp.Initialize: %v", err)
		}
		node := &Node{Addr: addr, Instance: inst, Transport: tr}
		inst.SetDeliverFn(node.onDeliver)
		inst.SetConfChgFn(node.onConfChg)
		r.Nodes = append(r.Nodes, node)
	}
	return r
}

// Start launches every node's Run loop. Call JoinAll afterward to make the
// nodes discover each other (Run alone only bootstraps a lone node).
func (r *Ring) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	var wg sync.WaitGroup
	for _, node := range r.Nodes {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			_ = node.Instance.Run(ctx)
		}(node)
	}
	go func() {
		wg.Wait()
		close(r.done)
	}()
}

// JoinAll has every node Join every other node's address, converging on a
// single ring through GATHER/COMMIT/RECOVERY (spec.md §8 "three-node
// join").
func (r *Ring) JoinAll() {
	for _, node := range r.Nodes {
		var peers []totemip.Address
		for _, other := range r.Nodes {
			if other.Addr.NodeID != node.Addr.NodeID {
				peers = append(peers, other.Addr)
			}
		}
		node.Instance.Join(peers...)
	}
}

// Stop cancels every node's Run loop and waits for them to exit.
func (r *Ring) Stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("totemtest: nodes did not exit after cancel")
	}
}

// EventuallyAll polls cond against every node until it holds for all of
// them or timeout elapses, failing the test otherwise. Used in place of a
// fixed sleep since GATHER/COMMIT/RECOVERY convergence time depends on
// how many rounds the fake network needs.
func EventuallyAll(t *testing.T, nodes []*Node, timeout time.Duration, cond func(*Node) bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ok := true
		for _, n := range nodes {
			if !cond(n) {
				ok = false
				break
			}
		}
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("totemtest: condition did not hold for all %d nodes within %s", len(nodes), timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
