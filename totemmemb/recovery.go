package totemmemb

import "github.com/virtualsync/totemsrp/totemip"

// RecoveryPlan is what RECOVERY entry computes before the engine starts
// re-encapsulating prior-ring messages (spec.md §4.4 "RECOVERY entry").
// LowRingAru is the exclusive lower bound of the range
// (LowRingAru, HighSeqReceived] the engine must walk in its prior-ring
// regular sort queue and re-enqueue, encapsulated, for the new ring;
// HighRingDelivered is the largest prior-ring high_delivered among the
// entries.
type RecoveryPlan struct {
	TransMembList     []totemip.Address
	LowRingAru        uint32
	HighRingDelivered uint32
}

// PlanRecovery computes the RecoveryPlan from the commit token's per-member
// entries, restricted to members that shared the prior ring_id (entries
// from a differently-seeded commit token, e.g. a straggler from an older
// gather round, are excluded by the caller before this is invoked).
//
// priorMembers is the membership the engine belonged to before this ring
// change; newMembers is NewMembList. TransMembList is their intersection.
func PlanRecovery(priorMembers, newMembers []totemip.Address, entries []PriorRingState) RecoveryPlan {
	plan := RecoveryPlan{TransMembList: Intersect(priorMembers, newMembers)}
	if len(entries) == 0 {
		return plan
	}
	low := entries[0].ARU
	high := entries[0].HighDelivered
	for _, e := range entries[1:] {
		if e.ARU < low {
			low = e.ARU
		}
		if e.HighDelivered > high {
			high = e.HighDelivered
		}
	}
	plan.LowRingAru = low
	plan.HighRingDelivered = high
	return plan
}

// RetransmitRange returns the inclusive bounds [lo, hi] of the prior-ring
// messages this processor must re-encapsulate onto the new ring, i.e. the
// range (low_ring_aru, old_ring_state_high_seq_received].
// highSeqReceived is this processor's own prior-ring high_seq_received,
// which may exceed HighRingDelivered (another member's max) and is passed
// separately since the range is processor-local, not group-wide.
func (p RecoveryPlan) RetransmitRange(highSeqReceived uint32) (lo, hi uint32, ok bool) {
	if highSeqReceived <= p.LowRingAru {
		return 0, 0, false
	}
	return p.LowRingAru + 1, highSeqReceived, true
}

// RetransRotationTarget is the number of consecutive clean rotations
// (retransmit-message queue empty, ARU >= install_seq) required before
// RECOVERY hands off to OPERATIONAL (spec.md §4.3 "Recovery-ring special
// logic"). The token's retrans_flag plays no part in this count.
const RetransRotationTarget = 2
