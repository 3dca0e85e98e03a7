package totemmemb

import "github.com/virtualsync/totemsrp/totemip"

// JoinView is the information one MEMB_JOIN message carries, enough to run
// memb_join_process without depending on totemwire's wire representation.
type JoinView struct {
	Sender     totemip.Address
	RingSeq    uint64
	ProcList   []totemip.Address
	FailedList []totemip.Address
}

// JoinOutcome is what memb_join_process decided to do with one JOIN
// message (spec.md §4.4 GATHER entry bullet list).
type JoinOutcome int

const (
	// JoinIgnoredSubset: sender's sets were a subset of ours, no new info.
	JoinIgnoredSubset JoinOutcome = iota
	// JoinIgnoredStale: sender is already in our failed_list.
	JoinIgnoredStale
	// JoinConsensusRecorded: sender's sets matched ours exactly.
	JoinConsensusRecorded
	// JoinMerged: sender had new information; our sets were merged.
	JoinMerged
	// JoinReadyForCommit: consensus is now universal over proc∖failed and
	// we are the lowest address in that set — build a commit token.
	JoinReadyForCommit
)

// EnterGather resets Membership for a fresh GATHER cycle: the local address is
// folded into proc_list, the consensus list is cleared, and any prior
// ring_seq high-water mark is preserved for the next JOIN broadcast
// (spec.md §4.4 "GATHER entry").
func (m *Membership) EnterGather() {
	m.MergeProc([]totemip.Address{m.Self})
	m.ConsensusList = make(map[uint32]bool)
}

// JoinProcess implements memb_join_process for one received JOIN.
func (m *Membership) JoinProcess(j JoinView) JoinOutcome {
	if j.RingSeq > m.MaxRingSeqSeen {
		m.MaxRingSeqSeen = j.RingSeq
	}

	if sameSet(j.ProcList, m.ProcList) && sameSet(j.FailedList, m.FailedList) {
		m.ConsensusList[j.Sender.NodeID] = true
		if m.consensusUniversal() {
			return JoinReadyForCommit
		}
		return JoinConsensusRecorded
	}

	if isSubset(j.ProcList, m.ProcList) && isSubset(j.FailedList, m.FailedList) {
		return JoinIgnoredSubset
	}

	if containsNodeID(m.FailedList, j.Sender.NodeID) {
		return JoinIgnoredStale
	}

	// Merge: if the sender had already failed us, we've clearly been
	// unreachable from its perspective — fail ourselves in our own view
	// too, since re-joining must go through a fresh consensus round.
	// Otherwise the sender is simply behind; fail it until it catches up
	// with the rest of our view, matching spec.md's "placing the sender
	// into failed_list otherwise".
	if containsNodeID(j.FailedList, m.Self.NodeID) {
		m.AddFailed(m.Self)
	} else {
		m.AddFailed(j.Sender)
	}
	m.MergeProc(j.ProcList)
	m.MergeFailed(j.FailedList)
	m.ConsensusList = make(map[uint32]bool)
	return JoinMerged
}

// consensusUniversal reports whether every live member (proc∖failed) has
// recorded consensus, and Self is the lowest address among them.
func (m *Membership) consensusUniversal() bool {
	live := m.ProcMinusFailed()
	for _, a := range live {
		if a.NodeID == m.Self.NodeID {
			continue
		}
		if !m.ConsensusList[a.NodeID] {
			return false
		}
	}
	return m.IsRepresentative()
}
