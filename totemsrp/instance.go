// Package totemsrp implements the Totem Single-Ring Protocol engine: the
// token-handling and membership state machine that ties totemwire,
// totemqueue, totemmemb, totemdeliver, and totemrrp together into the
// single-threaded cooperative engine spec.md §5 describes.
//
// Grounded on the teacher's internal/concurrency/eventloop.go for the
// overall shape (a Run loop draining an inbound channel and dispatching to
// registered behavior) generalized from a busy-spin lock-free ring buffer
// to a select-driven loop over network frames and timers, since totemsrp
// is a protocol engine waiting on I/O and timeouts rather than a hot-path
// spinner. Logging follows the teacher's preference for a structured
// logger (github.com/sirupsen/logrus, as wired in the pack's
// chaitanyaphalak-go-mcast and runZeroInc-sockstats examples) over
// fmt.Println.
package totemsrp

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/virtualsync/totemsrp/pool"
	"github.com/virtualsync/totemsrp/totemconfig"
	"github.com/virtualsync/totemsrp/totemdeliver"
	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemmemb"
	"github.com/virtualsync/totemsrp/totemqueue"
	"github.com/virtualsync/totemsrp/totemwire"
)

// Transport is what the engine needs from a ring transport: point-to-point
// and broadcast-by-iteration send, and a blocking receive with a deadline.
// totemrrp.Conn implements this; tests substitute an in-memory fake.
type Transport interface {
	SendTo(dst totemip.Address, frame []byte) error
	RecvFrame(deadline time.Duration) ([]byte, totemip.Address, error)
}

// ConfChgKind distinguishes the transitional and regular configuration
// change events spec.md §4.4's OPERATIONAL entry fires in sequence.
type ConfChgKind int

const (
	ConfChgTransitional ConfChgKind = iota
	ConfChgRegular
)

func (k ConfChgKind) String() string {
	if k == ConfChgTransitional {
		return "transitional"
	}
	return "regular"
}

// ConfChgFunc is invoked once per configuration change (spec.md §4.4
// OPERATIONAL entry, §4.5).
type ConfChgFunc func(kind ConfChgKind, memb, joined, left []totemip.Address)

// ErrorMemoryFailureFunc is the fatal memory-exhaustion hook (spec.md §7)
// installed with SetErrorMemoryFailureFn. The engine stores it but no code
// path in the engine calls it.
type ErrorMemoryFailureFunc func(err error)

// TokenCallbackHandle is an opaque handle returned by CallbackTokenCreate,
// used only to name the callback for CallbackTokenDestroy.
type TokenCallbackHandle string

// Instance is one processor's running protocol engine.
type Instance struct {
	cfg       totemconfig.Config
	self      totemip.Address
	transport Transport
	log       *logrus.Entry
	metrics   *Metrics
	ringIDDir string

	memb  *totemmemb.Membership
	state totemmemb.State

	regularQ  *totemqueue.SortQueue[*totemwire.Mcast]
	recoveryQ *totemqueue.SortQueue[*totemwire.Mcast]

	newMsgQ        *totemqueue.MessageFIFO[*totemwire.Mcast]
	retransmitMsgQ *totemqueue.MessageFIFO[*totemwire.Mcast]

	// mcastPool recycles *totemwire.Mcast allocations across the
	// originate/deliver/free cycle, since a busy ring can churn thousands
	// of these per second. Grounded on the teacher's pool/objpool.go
	// SyncPool[T], generalized from a generic "transient Go object" pool
	// to this specific hot allocation.
	mcastPool *pool.SyncPool[*totemwire.Mcast]

	myAru             uint32
	myHighSeqReceived uint32
	myHighDelivered   uint32
	myInstallSeq      uint32
	myTokenSeq        uint32
	myLastAru         uint32
	lastObservedAru   uint32
	aruStallCount     uint32
	seqUnchangedCount uint32
	receivedFlag      bool
	lastReleased      uint32
	prevTokenRoundSeq uint32
	lastMergeDetectSeq uint32

	setRetransFlag   bool
	retransFlagCount uint32

	oldRingState struct {
		ARU             uint32
		HighSeqReceived uint32
	}
	recoveryPlan  totemmemb.RecoveryPlan
	priorRingID   totemwire.RingID
	priorMembList []totemip.Address

	heldToken      *totemwire.OrfToken
	lastTokenFrame []byte
	lastTokenDst   totemip.Address

	tokenLoss       *timer
	tokenRetransmit *timer
	tokenHold       *timer
	mergeDetect     *timer
	join            *timer
	consensus       *timer
	commitT         *timer
	heartbeat       *timer

	deliverFn            totemdeliver.DeliverFunc
	confChgFn            ConfChgFunc
	errorMemoryFailureFn ErrorMemoryFailureFunc

	tokenCallbacks map[xid.ID]func()

	nextRingSeq uint64

	// cmds, loopDone, and running let Mcast/Join/State/Avail/
	// NewMsgSignal/CallbackToken* be called safely from any goroutine
	// while Run's event loop is executing concurrently (spec.md §5's
	// single-event-loop-thread shared-resource policy): see submit.
	cmds     chan func()
	loopDone chan struct{}
	running  atomic.Bool
}

// Initialize builds a new Instance bound to self, loading any previously
// persisted ring_id from ringIDDir (DefaultRingIDDir if empty). The
// returned Instance starts OPERATIONAL as the sole member of its own ring;
// call Run to start the event loop, which will immediately circulate an
// initial token to itself for a single-node ring (spec.md §8 scenario 1).
func Initialize(cfg totemconfig.Config, self totemip.Address, transport Transport, ringIDDir string, log *logrus.Entry) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ringIDDir == "" {
		ringIDDir = DefaultRingIDDir
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	persisted, ok, err := loadRingID(ringIDDir, self)
	if err != nil {
		return nil, err
	}
	ring := totemwire.RingID{Rep: self, Seq: 0}
	if ok {
		ring = persisted
	}

	inst := &Instance{
		cfg:            cfg,
		self:           self,
		transport:      transport,
		log:            log.WithField("component", "totemsrp").WithField("self", self.String()),
		metrics:        NewMetrics("totemsrp"),
		ringIDDir:      ringIDDir,
		memb:           totemmemb.New(self, ring),
		state:          totemmemb.Operational,
		regularQ:       totemqueue.New[*totemwire.Mcast](),
		recoveryQ:      totemqueue.New[*totemwire.Mcast](),
		newMsgQ:        totemqueue.NewMessageFIFO[*totemwire.Mcast](totemqueue.MessageFIFOMax),
		retransmitMsgQ: totemqueue.NewMessageFIFO[*totemwire.Mcast](totemqueue.MessageFIFOMax),
		mcastPool:      pool.NewSyncPool(func() *totemwire.Mcast { return &totemwire.Mcast{} }),
		tokenLoss:      newTimer(),
		tokenRetransmit: newTimer(),
		tokenHold:      newTimer(),
		mergeDetect:    newTimer(),
		join:           newTimer(),
		consensus:      newTimer(),
		commitT:        newTimer(),
		heartbeat:      newTimer(),
		tokenCallbacks: make(map[xid.ID]func()),
		nextRingSeq:    ring.Seq + 1,
		cmds:           make(chan func(), 32),
		loopDone:       make(chan struct{}),
		deliverFn:      func(totemip.Address, []byte, bool) {},
		confChgFn:      func(ConfChgKind, []totemip.Address, []totemip.Address, []totemip.Address) {},
		errorMemoryFailureFn: func(err error) {
			panic(fmt.Sprintf("totemsrp: unrecoverable memory failure: %v", err))
		},
	}
	inst.metrics.ringSeq.Set(float64(ring.Seq))
	return inst, nil
}

// SetDeliverFn installs the upper-service message delivery callback.
func (i *Instance) SetDeliverFn(fn totemdeliver.DeliverFunc) { i.deliverFn = fn }

// SetConfChgFn installs the configuration-change callback.
func (i *Instance) SetConfChgFn(fn ConfChgFunc) { i.confChgFn = fn }

// SetErrorMemoryFailureFn installs the fatal memory-exhaustion callback.
func (i *Instance) SetErrorMemoryFailureFn(fn ErrorMemoryFailureFunc) { i.errorMemoryFailureFn = fn }

// submit runs fn with exclusive access to instance state: inline, if Run
// is not currently driving the event loop (in which case no other
// goroutine can be touching this Instance), or handed to the loop
// goroutine to run between frame and timer dispatch otherwise. This is
// what lets Mcast, Join, State, Avail, NewMsgSignal, and the
// token-callback registration be called safely from any goroutine while
// Run executes concurrently, enforcing spec.md §5's single-event-loop-
// thread shared-resource policy at the API boundary rather than leaving
// it to the caller.
func (i *Instance) submit(fn func()) {
	if !i.running.Load() {
		fn()
		return
	}
	done := make(chan struct{})
	select {
	case i.cmds <- func() { fn(); close(done) }:
		<-done
	case <-i.loopDone:
		// Run exited between our running.Load() and this send: nobody
		// will ever drain i.cmds again, so it is safe to run fn directly.
		fn()
	}
}

// State reports the current membership state.
func (i *Instance) State() totemmemb.State {
	var s totemmemb.State
	i.submit(func() { s = i.state })
	return s
}

// Mcast enqueues body for multicast under guarantee. Safe to call from any
// goroutine, whether or not Run is currently executing (spec.md §5's
// shared-resource policy is enforced by submit). Returns
// totemerrs.ErrQueueFull if the new-message queue has no room.
func (i *Instance) Mcast(body []byte, guarantee totemwire.Guarantee) error {
	var err error
	i.submit(func() {
		msg := i.mcastPool.Get()
		*msg = totemwire.Mcast{
			Header:    totemwire.Header{Originator: i.self.NodeID, EndianDetector: totemwire.EndianDetector},
			RingID:    i.memb.RingID,
			Source:    i.self,
			Guarantee: guarantee,
			Body:      append([]byte(nil), body...),
		}
		if err = i.newMsgQ.Push(msg); err != nil {
			i.mcastPool.Put(msg)
			return
		}
		i.metrics.newMsgQueueDepth.Set(float64(i.newMsgQ.Len()))
	})
	return err
}

// Avail reports remaining new-message queue capacity (spec.md §5).
func (i *Instance) Avail() int {
	var n int
	i.submit(func() { n = i.newMsgQ.Avail() })
	return n
}

// CallbackTokenCreate registers fn to run once per token circulation while
// this processor holds the token, returning an opaque handle for removal.
func (i *Instance) CallbackTokenCreate(fn func()) TokenCallbackHandle {
	id := xid.New()
	i.submit(func() { i.tokenCallbacks[id] = fn })
	return TokenCallbackHandle(id.String())
}

// CallbackTokenDestroy removes a previously registered token callback.
func (i *Instance) CallbackTokenDestroy(h TokenCallbackHandle) {
	id, err := xid.FromString(string(h))
	if err != nil {
		return
	}
	i.submit(func() { delete(i.tokenCallbacks, id) })
}

// NewMsgSignal enqueues an empty Agreed-guarantee control message used
// purely to wake a representative holding the token (spec.md §4.3 step 8's
// "late mcast" case), without carrying application payload.
func (i *Instance) NewMsgSignal() error {
	return i.Mcast(nil, totemwire.Agreed)
}

// Run drives the event loop until ctx is cancelled. It launches one reader
// goroutine pumping transport.RecvFrame into an internal channel — the
// only concurrency totemsrp admits, since RecvFrame blocks and Go has no
// portable cancellable-blocking-read primitive — and a single-goroutine
// select loop that dispatches frames and timer fires serially, matching
// spec.md §5's "no suspension inside handlers" model.
func (i *Instance) Run(ctx context.Context) error {
	type inboundFrame struct {
		data []byte
		from totemip.Address
	}
	frames := make(chan inboundFrame, 64)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for ctx.Err() == nil {
			data, from, err := i.transport.RecvFrame(100 * time.Millisecond)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				continue
			}
			select {
			case frames <- inboundFrame{data: data, from: from}:
			case <-ctx.Done():
				return
			}
		}
	}()

	i.running.Store(true)
	defer func() {
		i.running.Store(false)
		close(i.loopDone)
	}()

	if i.state == totemmemb.Operational && i.memb.IsRepresentative() && len(i.memb.ProcMinusFailed()) == 1 {
		i.sendInitialToken()
	}

	for {
		select {
		case <-ctx.Done():
			<-readerDone
			return ctx.Err()
		case f := <-frames:
			i.handleFrame(f.data, f.from)
		case cmd := <-i.cmds:
			cmd()
		case <-i.tokenLoss.C():
			if i.tokenLoss.Fire() {
				i.handleTokenLoss()
			}
		case <-i.tokenRetransmit.C():
			if i.tokenRetransmit.Fire() {
				i.handleTokenRetransmitTimeout()
			}
		case <-i.tokenHold.C():
			if i.tokenHold.Fire() {
				i.handleTokenHoldTimeout()
			}
		case <-i.mergeDetect.C():
			if i.mergeDetect.Fire() {
				i.handleMergeDetectTimeout()
			}
		case <-i.join.C():
			if i.join.Fire() {
				i.handleJoinTimeout()
			}
		case <-i.consensus.C():
			if i.consensus.Fire() {
				i.handleConsensusTimeout()
			}
		case <-i.commitT.C():
			if i.commitT.Fire() {
				i.handleCommitTimeout()
			}
		case <-i.heartbeat.C():
			if i.heartbeat.Fire() {
				i.handleHeartbeatTimeout()
			}
		}
	}
}

func (i *Instance) handleFrame(data []byte, from totemip.Address) {
	msg, err := totemwire.Decode(data)
	if err != nil {
		i.log.WithError(err).WithField("from", from.String()).WithField("security", true).Warn("dropping undecodable frame")
		return
	}
	switch m := msg.(type) {
	case *totemwire.OrfToken:
		i.handleOrfToken(m)
	case *totemwire.Mcast:
		i.handleMcastFrame(m)
	case *totemwire.MembJoin:
		i.handleMembJoin(m, from)
	case *totemwire.MembMergeDetect:
		i.handleMergeDetect(m)
	case *totemwire.MembCommitToken:
		i.handleCommitToken(m)
	case *totemwire.TokenHoldCancel:
		i.handleTokenHoldCancel(m)
	default:
		i.log.WithField("type", fmt.Sprintf("%T", msg)).Debug("unhandled message type")
	}
}
