package totemsrp

import (
	"github.com/virtualsync/totemsrp/totemdeliver"
	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemmemb"
	"github.com/virtualsync/totemsrp/totemqueue"
	"github.com/virtualsync/totemsrp/totemwire"
)

// TransmitsAllowed is the per-circulation flow-control credit budget
// (spec.md §4.3 step 5).
const TransmitsAllowed = 16

// MissingMcastWindow bounds how far token.seq may run ahead of
// last_released before origination refuses further new messages
// (spec.md §4.3 step 5's safety net).
const MissingMcastWindow = 128

// FreeWindowMax caps how large a single messages_free release window may
// be, bounding per-token work (spec.md §4.2 "Freeing rule").
const FreeWindowMax = 1024

func sameRing(a, b totemwire.RingID) bool {
	return a.Rep.NodeID == b.Rep.NodeID && a.Seq == b.Seq
}

// activeQueue returns the sort queue messages currently land in: the
// recovery queue while RECOVERY is in progress, the regular queue
// otherwise (spec.md §4.2 "On entry to recovery...").
func (i *Instance) activeQueue() *totemqueue.SortQueue[*totemwire.Mcast] {
	if i.state == totemmemb.Recovery {
		return i.recoveryQ
	}
	return i.regularQ
}

func (i *Instance) addressByNodeID(nodeID uint32) (totemip.Address, bool) {
	for _, a := range i.memb.ProcList {
		if a.NodeID == nodeID {
			return a, true
		}
	}
	return totemip.Address{}, false
}

// broadcast sends frame to every live member, including self so the local
// sort queue observes its own originated messages through the same code
// path as a peer's.
func (i *Instance) broadcast(frame []byte) {
	for _, a := range i.memb.ProcMinusFailed() {
		if err := i.transport.SendTo(a, frame); err != nil {
			i.log.WithError(err).WithField("to", a.String()).Debug("broadcast send failed")
		}
	}
}

func (i *Instance) nextMember() totemip.Address {
	live := i.memb.ProcMinusFailed()
	for idx, a := range live {
		if a.NodeID == i.self.NodeID {
			return live[(idx+1)%len(live)]
		}
	}
	return i.self
}

// sendInitialToken bootstraps a single-member ring (spec.md §8 scenario 1):
// a lone representative circulates the first token to itself.
func (i *Instance) sendInitialToken() {
	tok := totemwire.OrfToken{
		Header:   totemwire.Header{Originator: i.self.NodeID, EndianDetector: totemwire.EndianDetector},
		Seq:      0,
		TokenSeq: 1,
		RingID:   i.memb.RingID,
	}
	frame := totemwire.EncodeOrfToken(tok)
	i.transport.SendTo(i.self, frame)
	i.tokenLoss.Arm(i.cfg.TokenTimeout)
}

func (i *Instance) recomputeMyAru() {
	seq := i.myAru + 1
	for i.activeQueue().InUse(seq) {
		i.myAru = seq
		seq++
	}
}

// handleOrfToken runs the nine-step token-handling engine (spec.md §4.3).
func (i *Instance) handleOrfToken(t *totemwire.OrfToken) {
	if !sameRing(t.RingID, i.memb.RingID) {
		i.triggerMergeDetect(t.RingID)
		return
	}

	// Step 1.
	if t.TokenSeq <= i.myTokenSeq {
		i.tokenLoss.Arm(i.cfg.TokenTimeout)
		i.heartbeat.Cancel()
		return
	}
	i.myTokenSeq = t.TokenSeq

	// Step 2.
	i.myLastAru = t.Aru
	i.messagesFree(t.Aru)
	creditsUsed := i.processRTR(t)

	// Step 4.
	i.addLocalRTR(t)

	// Give the application a chance to Mcast before origination consumes
	// this round's flow-control credits.
	i.fireTokenCallbacks()

	// Step 5.
	i.originate(t, creditsUsed)

	// Step 6.
	i.advanceAru(t)

	// Deliver whatever is now safely ARU-covered before freeing it next
	// round; see DESIGN.md for why delivery is folded into this tick
	// rather than an async callback.
	i.deliverRegular()

	// Step 7.
	if i.detectStall(t) {
		return
	}

	// Step 8.
	hold := i.tokenHoldCheck(t)

	// Step 9.
	if hold {
		i.heldToken = t
	} else {
		i.forwardToken(t)
	}

	i.recoveryProgress()
}

// messagesFree implements the Freeing rule (spec.md §4.2): release every
// regular-queue entry at or below min(token.aru, my_last_aru,
// my_high_delivered), capped at FreeWindowMax per call.
func (i *Instance) messagesFree(tokenAru uint32) {
	bound := tokenAru
	if i.myLastAru < bound {
		bound = i.myLastAru
	}
	if i.myHighDelivered < bound {
		bound = i.myHighDelivered
	}
	if int64(int32(bound-i.regularQ.Head())) > FreeWindowMax {
		bound = i.regularQ.Head() + FreeWindowMax
	}
	for _, m := range i.regularQ.ReleaseUpTo(bound) {
		i.mcastPool.Put(m)
	}
}

// processRTR attempts to satisfy every retransmit-request entry addressed
// to the current ring, removing satisfied entries from t.RtrList in place.
// Returns the number of flow-control credits consumed.
func (i *Instance) processRTR(t *totemwire.OrfToken) int {
	kept := t.RtrList[:0]
	credits := 0
	for _, e := range t.RtrList {
		if !sameRing(e.RingID, i.memb.RingID) {
			kept = append(kept, e)
			continue
		}
		msg, ok := i.activeQueue().Get(e.Seq)
		if !ok {
			kept = append(kept, e)
			continue
		}
		i.broadcast(totemwire.EncodeMcast(*msg))
		i.metrics.retransmits.Inc()
		credits++
	}
	t.RtrList = kept
	return credits
}

// addLocalRTR scans for gaps between my_aru+1 and my_high_seq_received in
// the active sort queue and appends RTR entries for them, up to
// totemwire.RetransmitEntriesMax.
func (i *Instance) addLocalRTR(t *totemwire.OrfToken) {
	q := i.activeQueue()
	for seq := i.myAru + 1; int64(int32(i.myHighSeqReceived-seq)) >= 0; seq++ {
		if len(t.RtrList) >= totemwire.RetransmitEntriesMax {
			return
		}
		if !q.InUse(seq) {
			t.RtrList = append(t.RtrList, totemwire.RtrEntry{RingID: i.memb.RingID, Seq: seq})
		}
	}
}

// originate dequeues from the new-message queue (or the retransmit-message
// queue during RECOVERY), assigns sequence numbers, and multicasts, within
// the remaining flow-control budget.
func (i *Instance) originate(t *totemwire.OrfToken, creditsUsed int) {
	credits := TransmitsAllowed - creditsUsed
	q := i.newMsgQ
	if i.state == totemmemb.Recovery {
		q = i.retransmitMsgQ
	}
	for credits > 0 {
		if int64(t.Seq)+TransmitsAllowed-int64(i.lastReleased) > MissingMcastWindow {
			break
		}
		msg, ok := q.Pop()
		if !ok {
			break
		}
		t.Seq++
		msg.Seq = t.Seq
		msg.Header.Originator = i.self.NodeID
		msg.RingID = i.memb.RingID
		if err := i.activeQueue().Add(t.Seq, msg); err != nil {
			i.log.WithError(err).Warn("sort queue full, dropping originated message")
			break
		}
		if int64(int32(t.Seq-i.myHighSeqReceived)) > 0 {
			i.myHighSeqReceived = t.Seq
		}
		i.broadcast(totemwire.EncodeMcast(*msg))
		credits--
	}
	i.metrics.newMsgQueueDepth.Set(float64(i.newMsgQ.Len()))
}

// advanceAru implements spec.md §4.3 step 6.
func (i *Instance) advanceAru(t *totemwire.OrfToken) {
	i.recomputeMyAru()
	if i.myAru > t.Aru || t.AruAddr == i.self.NodeID || t.AruAddr == 0 {
		t.Aru = i.myAru
	}
	if i.myAru == t.Seq {
		t.AruAddr = 0
	} else {
		t.AruAddr = i.self.NodeID
	}
}

func (i *Instance) deliverRegular() {
	counting := func(source totemip.Address, body []byte, needsSwap bool) {
		i.metrics.messagesDelivered.Inc()
		i.deliverFn(source, body, needsSwap)
	}
	i.myHighDelivered = totemdeliver.Walk(
		i.regularQ, i.myHighDelivered, i.myAru, false,
		i.memb.DeliverMembList, totemwire.EndianDetector, counting,
	)
	i.lastReleased = i.myHighDelivered
	i.receivedFlag = totemdeliver.ReceivedFlag(i.myAru, i.myHighSeqReceived)
}

// detectStall implements spec.md §4.3 step 7, the ARU-stall failure
// detector.
func (i *Instance) detectStall(t *totemwire.OrfToken) bool {
	if t.Aru == i.lastObservedAru && t.AruAddr != 0 {
		i.aruStallCount++
		if i.aruStallCount > i.cfg.FailToRecvConst {
			if addr, ok := i.addressByNodeID(t.AruAddr); ok {
				i.memb.AddFailed(addr)
			}
			i.restoreSavedRingState()
			i.enterGather()
			return true
		}
	} else {
		i.aruStallCount = 0
	}
	i.lastObservedAru = t.Aru
	return false
}

// tokenHoldCheck implements spec.md §4.3 step 8.
func (i *Instance) tokenHoldCheck(t *totemwire.OrfToken) bool {
	if t.Seq == i.prevTokenRoundSeq {
		i.seqUnchangedCount++
	} else {
		i.seqUnchangedCount = 0
	}
	i.prevTokenRoundSeq = t.Seq

	hold := false
	if i.memb.IsRepresentative() && i.seqUnchangedCount > i.cfg.SeqnoUnchangedConst {
		i.tokenHold.Arm(i.cfg.TokenHoldTimeout)
		hold = true
	}
	if t.Seq == i.lastMergeDetectSeq {
		i.mergeDetect.Arm(i.cfg.MergeTimeout)
	} else {
		i.mergeDetect.Cancel()
	}
	i.lastMergeDetectSeq = t.Seq
	return hold
}

// forwardToken implements spec.md §4.3 step 9: store the token into the
// retransmit buffer (so the token-retransmit timeout can resend it
// verbatim) and unicast to next_memb.
func (i *Instance) forwardToken(t *totemwire.OrfToken) {
	t.Header.Originator = i.self.NodeID
	t.TokenSeq++
	next := i.nextMember()
	frame := totemwire.EncodeOrfToken(*t)
	i.lastTokenFrame = frame
	i.lastTokenDst = next
	if err := i.transport.SendTo(next, frame); err != nil {
		i.log.WithError(err).WithField("next", next.String()).Warn("token forward failed")
	}
	i.tokenRetransmit.Arm(i.cfg.TokenRetransmitTimeout)
	i.tokenLoss.Arm(i.cfg.TokenTimeout)
	if i.cfg.HeartbeatEnabled() {
		i.heartbeat.Arm(i.cfg.HeartbeatTimeout())
	}
	i.metrics.tokensForwarded.Inc()
}

func (i *Instance) fireTokenCallbacks() {
	for _, fn := range i.tokenCallbacks {
		fn()
	}
}

func (i *Instance) handleMcastFrame(m *totemwire.Mcast) {
	if !sameRing(m.RingID, i.memb.RingID) {
		return
	}
	if err := i.activeQueue().Add(m.Seq, m); err != nil {
		return
	}
	if int64(int32(m.Seq-i.myHighSeqReceived)) > 0 {
		i.myHighSeqReceived = m.Seq
	}
	i.recomputeMyAru()
}
