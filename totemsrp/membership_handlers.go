package totemsrp

import (
	"github.com/virtualsync/totemsrp/totemdeliver"
	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemmemb"
	"github.com/virtualsync/totemsrp/totemwire"
)

// deliverTransitional walks the regular queue up to the prior ring's
// high_seq_received under the transitional configuration, filtered to
// deliver_memb_list (spec.md §4.4 "OPERATIONAL entry").
func deliverTransitional(i *Instance, endPoint uint32) uint32 {
	return totemdeliver.Walk(i.regularQ, 0, endPoint, true, i.memb.DeliverMembList, totemwire.EndianDetector, i.deliverFn)
}

// Join seeds the processor set with peers and begins GATHER, broadcasting
// a JOIN so they discover this processor in turn. Safe to call from any
// goroutine, before or after Run starts (submit serializes it onto the
// loop goroutine once Run is driving the event loop). This is the
// multi-node counterpart to Run's single-node sendInitialToken bootstrap.
func (i *Instance) Join(peers ...totemip.Address) {
	i.submit(func() {
		i.memb.MergeProc(peers)
		if i.state != totemmemb.Gather {
			i.oldRingState.ARU = i.myAru
			i.oldRingState.HighSeqReceived = i.myHighSeqReceived
			i.enterGather()
			return
		}
		i.sendJoin()
	})
}

// enterGather implements spec.md §4.4's "GATHER entry": merge self into
// proc_list, broadcast a JOIN, arm the join/consensus timers, and cancel
// token timers.
func (i *Instance) enterGather() {
	i.priorRingID = i.memb.RingID
	i.priorMembList = append([]totemip.Address(nil), i.memb.MembList...)
	if len(i.priorMembList) == 0 {
		i.priorMembList = i.memb.ProcMinusFailed()
	}

	i.state = totemmemb.Gather
	i.memb.EnterGather()

	i.tokenLoss.Cancel()
	i.tokenRetransmit.Cancel()
	i.tokenHold.Cancel()
	i.heartbeat.Cancel()

	i.join.Arm(i.cfg.JoinTimeout)
	i.consensus.Arm(i.cfg.ConsensusTimeout)

	i.sendJoin()
	i.metrics.stateTransitions.WithLabelValues(i.state.String()).Inc()
}

func (i *Instance) sendJoin() {
	msg := totemwire.MembJoin{
		Header:     totemwire.Header{Originator: i.self.NodeID, EndianDetector: totemwire.EndianDetector},
		RingSeq:    i.memb.MaxRingSeqSeen,
		ProcList:   i.memb.ProcList,
		FailedList: i.memb.FailedList,
	}
	i.broadcast(totemwire.EncodeMembJoin(msg))
}

// restoreSavedRingState restores the bookkeeping captured before the
// failed ring change attempt, per spec.md §4.4's "any non-OPERATIONAL →
// token_loss → GATHER (ring_state_restore on the way)".
func (i *Instance) restoreSavedRingState() {
	i.myAru = i.oldRingState.ARU
	i.myHighSeqReceived = i.oldRingState.HighSeqReceived
}

// triggerMergeDetect handles a token or mcast observed carrying a foreign
// ring_id: OPERATIONAL transitions to GATHER on "merge-detect of another
// ring" (spec.md §4.4).
func (i *Instance) triggerMergeDetect(foreign totemwire.RingID) {
	if i.state != totemmemb.Operational {
		return
	}
	i.oldRingState.ARU = i.myAru
	i.oldRingState.HighSeqReceived = i.myHighSeqReceived
	i.enterGather()
}

func (i *Instance) handleMergeDetect(m *totemwire.MembMergeDetect) {
	if sameRing(m.RingID, i.memb.RingID) {
		return
	}
	i.triggerMergeDetect(m.RingID)
}

func (i *Instance) handleTokenHoldCancel(m *totemwire.TokenHoldCancel) {
	if !sameRing(m.RingID, i.memb.RingID) {
		return
	}
	i.tokenHold.Cancel()
}

func (i *Instance) handleMembJoin(m *totemwire.MembJoin, from totemip.Address) {
	if i.state != totemmemb.Gather {
		i.oldRingState.ARU = i.myAru
		i.oldRingState.HighSeqReceived = i.myHighSeqReceived
		i.enterGather()
	}
	sender := from
	if addr, ok := i.addressByNodeID(m.Header.Originator); ok {
		sender = addr
	}
	outcome := i.memb.JoinProcess(totemmemb.JoinView{
		Sender:     sender,
		RingSeq:    m.RingSeq,
		ProcList:   m.ProcList,
		FailedList: m.FailedList,
	})
	switch outcome {
	case totemmemb.JoinReadyForCommit:
		i.enterCommit()
	case totemmemb.JoinMerged:
		i.sendJoin()
	}
}

func (i *Instance) handleJoinTimeout() {
	if i.state != totemmemb.Gather {
		return
	}
	i.join.Arm(i.cfg.JoinTimeout)
	i.sendJoin()
}

func (i *Instance) handleConsensusTimeout() {
	if i.state != totemmemb.Gather {
		return
	}
	// Consensus did not converge in time; re-broadcast JOIN and keep
	// waiting rather than giving up, matching spec.md's GATHER loop.
	i.consensus.Arm(i.cfg.ConsensusTimeout)
	i.sendJoin()
}

func (i *Instance) handleMergeDetectTimeout() {
	if i.state != totemmemb.Operational {
		return
	}
	i.triggerMergeDetect(totemwire.RingID{})
}

// enterCommit implements spec.md §4.4's "COMMIT entry" for the processor
// that first observes universal consensus: it builds the commit token,
// assigns the new ring_id, stamps its own slot, and forwards to the next
// member in the new membership's address order.
func (i *Instance) enterCommit() {
	members := i.memb.ProcMinusFailed()
	newRing := totemwire.RingID{Rep: totemip.Lowest(members), Seq: i.nextRingSeq}
	i.nextRingSeq++

	i.state = totemmemb.Commit
	i.memb.NewMembList = members
	i.memb.RingID = newRing
	i.metrics.ringSeq.Set(float64(newRing.Seq))
	i.join.Cancel()
	i.consensus.Cancel()
	if err := saveRingID(i.ringIDDir, i.self, newRing); err != nil {
		i.log.WithError(err).Warn("persist ring_id failed")
	}

	tok := totemwire.MembCommitToken{
		Header:      totemwire.Header{Originator: i.self.NodeID, EndianDetector: totemwire.EndianDetector},
		RingID:      newRing,
		MembIndex:   0,
		Addr:        members,
		MembEntries: make([]totemwire.CommitEntry, len(members)),
	}
	i.stampAndRotateCommitToken(&tok)
	i.metrics.stateTransitions.WithLabelValues(i.state.String()).Inc()
}

// handleCommitToken implements the receiving side of spec.md §4.4's COMMIT
// entry and its completion into RECOVERY: a GATHER-state processor that
// receives a commit token matching its own proc∖failed adopts the new
// ring_id and enters COMMIT; a COMMIT-state processor stamps its own slot
// and forwards, entering RECOVERY once the token has visited every member.
func (i *Instance) handleCommitToken(m *totemwire.MembCommitToken) {
	if i.state == totemmemb.Gather {
		if !sameAddrSet(m.Addr, i.memb.ProcMinusFailed()) {
			return
		}
		i.state = totemmemb.Commit
		i.memb.NewMembList = append([]totemip.Address(nil), m.Addr...)
		i.memb.RingID = m.RingID
		i.metrics.ringSeq.Set(float64(m.RingID.Seq))
		i.join.Cancel()
		i.consensus.Cancel()
		if err := saveRingID(i.ringIDDir, i.self, m.RingID); err != nil {
			i.log.WithError(err).Warn("persist ring_id failed")
		}
	}
	if i.state != totemmemb.Commit {
		return
	}
	i.stampAndRotateCommitToken(m)
}

func sameAddrSet(a, b []totemip.Address) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uint32]bool, len(a))
	for _, x := range a {
		seen[x.NodeID] = true
	}
	for _, x := range b {
		if !seen[x.NodeID] {
			return false
		}
	}
	return true
}

func (i *Instance) stampAndRotateCommitToken(m *totemwire.MembCommitToken) {
	for idx, a := range m.Addr {
		if a.NodeID == i.self.NodeID && idx < len(m.MembEntries) {
			m.MembEntries[idx] = totemwire.CommitEntry{
				Aru:           i.oldRingState.ARU,
				HighDelivered: i.oldRingState.HighSeqReceived,
				ReceivedFlag:  i.receivedFlag,
			}
		}
	}
	m.MembIndex++
	if int(m.MembIndex) >= len(m.Addr) {
		i.enterRecovery(m.MembEntries)
		return
	}
	next := m.Addr[m.MembIndex]
	if err := i.transport.SendTo(next, totemwire.EncodeMembCommitToken(*m)); err != nil {
		i.log.WithError(err).Warn("commit token forward failed")
	}
	i.tokenLoss.Arm(i.cfg.TokenTimeout)
}

func (i *Instance) handleCommitTimeout() {
	if i.state != totemmemb.Commit {
		return
	}
	// The commit token never came back around; treat it as lost and
	// restart from GATHER rather than hang indefinitely.
	i.restoreSavedRingState()
	i.enterGather()
}

// enterRecovery implements spec.md §4.4's "RECOVERY entry".
func (i *Instance) enterRecovery(entries []totemwire.CommitEntry) {
	priorStates := make([]totemmemb.PriorRingState, len(entries))
	for idx, e := range entries {
		priorStates[idx] = totemmemb.PriorRingState{ARU: e.Aru, HighDelivered: e.HighDelivered, ReceivedFlag: e.ReceivedFlag}
	}
	plan := totemmemb.PlanRecovery(i.priorMembList, i.memb.NewMembList, priorStates)
	i.recoveryPlan = plan
	i.memb.TransMembList = plan.TransMembList
	i.memb.DeliverMembList = plan.TransMembList

	i.recoveryQ.Reinit(0)
	if lo, hi, ok := plan.RetransmitRange(i.oldRingState.HighSeqReceived); ok {
		for seq := lo; int64(int32(hi-seq)) >= 0; seq++ {
			msg, found := i.regularQ.Get(seq)
			if !found {
				continue
			}
			inner := totemwire.EncodeMcast(*msg)
			encapsulated := &totemwire.Mcast{
				Header:    totemwire.Header{Originator: i.self.NodeID, Encapsulated: true, EndianDetector: totemwire.EndianDetector},
				RingID:    i.memb.RingID,
				Source:    msg.Source,
				Guarantee: msg.Guarantee,
				Body:      inner,
			}
			if err := i.retransmitMsgQ.Push(encapsulated); err != nil {
				i.log.WithError(err).Warn("retransmit-message queue full during recovery, dropping entry")
			}
		}
	}

	i.myAru = 0
	i.myHighSeqReceived = 0
	i.myInstallSeq = 0
	i.lastReleased = 0
	i.myHighDelivered = 0
	i.myTokenSeq = 0
	i.setRetransFlag = true
	i.retransFlagCount = 0
	i.memb.MembList = i.memb.NewMembList

	i.state = totemmemb.Recovery
	i.metrics.stateTransitions.WithLabelValues(i.state.String()).Inc()

	if i.memb.IsRepresentative() {
		i.sendInitialToken()
	}
}

// recoveryProgress implements spec.md §4.3's "Recovery-ring special
// logic": once the retransmit queue has been empty and ARU caught up for
// RetransRotationTarget consecutive rotations, hand off to OPERATIONAL.
func (i *Instance) recoveryProgress() {
	if i.state != totemmemb.Recovery {
		return
	}
	if i.retransmitMsgQ.Len() == 0 && int64(int32(i.myAru-i.myInstallSeq)) >= 0 {
		i.retransFlagCount++
		if i.retransFlagCount >= totemmemb.RetransRotationTarget {
			i.setRetransFlag = false
			i.enterOperational()
		}
	} else {
		i.retransFlagCount = 0
	}
}

// enterOperational implements spec.md §4.4's "OPERATIONAL entry": recover
// prior-ring ordering for encapsulated messages, deliver the transitional
// configuration's messages, fire the transitional then regular
// configuration-change events, and resume normal delivery.
func (i *Instance) enterOperational() {
	for seq := uint32(1); i.recoveryQ.InUse(seq); seq++ {
		msg, _ := i.recoveryQ.Get(seq)
		if !msg.Header.Encapsulated {
			continue
		}
		inner, err := totemwire.Decode(msg.Body)
		if err != nil {
			continue
		}
		innerMcast, ok := inner.(*totemwire.Mcast)
		if !ok || !sameRing(innerMcast.RingID, i.priorRingID) {
			continue
		}
		i.regularQ.Add(innerMcast.Seq, innerMcast)
	}

	joined := totemmemb.Joined(i.priorMembList, i.memb.NewMembList)
	left := totemmemb.Left(i.priorMembList, i.memb.NewMembList)

	i.confChgFn(ConfChgTransitional, i.memb.TransMembList, joined, left)
	i.myHighDelivered = deliverTransitional(i, i.oldRingState.HighSeqReceived)

	i.confChgFn(ConfChgRegular, i.memb.NewMembList, joined, left)

	i.memb.MembList = i.memb.NewMembList
	i.memb.ProcList = append([]totemip.Address(nil), i.memb.NewMembList...)
	i.memb.FailedList = nil
	i.oldRingState.ARU = 0
	i.oldRingState.HighSeqReceived = 0

	i.state = totemmemb.Operational
	i.metrics.stateTransitions.WithLabelValues(i.state.String()).Inc()

	if i.memb.IsRepresentative() && len(i.memb.ProcMinusFailed()) == 1 {
		i.sendInitialToken()
	}
}
