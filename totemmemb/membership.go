package totemmemb

import (
	"sort"

	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemwire"
)

// Membership holds every list the state machine reads and mutates across
// transitions (spec.md §3, §4.4). All address sets are kept deduplicated
// and ordered by totemip.Compare so consensus comparisons and
// representative selection are deterministic across members.
type Membership struct {
	Self totemip.Address

	RingID        totemwire.RingID
	MaxRingSeqSeen uint64

	ProcList   []totemip.Address
	FailedList []totemip.Address

	NewMembList     []totemip.Address
	TransMembList   []totemip.Address
	MembList        []totemip.Address
	DeliverMembList []totemip.Address

	// ConsensusList records, by NodeID, which members have sent a JOIN
	// whose proc_list/failed_list exactly matches ours.
	ConsensusList map[uint32]bool
}

// New returns a Membership seeded with self as the sole member of its own
// proc_list, matching the state a freshly initialized instance starts in
// before any JOIN traffic arrives.
func New(self totemip.Address, ring totemwire.RingID) *Membership {
	return &Membership{
		Self:          self,
		RingID:        ring,
		ProcList:      []totemip.Address{self},
		ConsensusList: make(map[uint32]bool),
	}
}

func sortAddrs(list []totemip.Address) {
	sort.Slice(list, func(i, j int) bool { return totemip.Compare(list[i], list[j]) < 0 })
}

func dedupeAddrs(list []totemip.Address) []totemip.Address {
	sortAddrs(list)
	out := list[:0]
	var last *totemip.Address
	for i := range list {
		a := list[i]
		if last != nil && last.NodeID == a.NodeID {
			continue
		}
		out = append(out, a)
		l := a
		last = &l
	}
	return out
}

func containsNodeID(list []totemip.Address, nodeID uint32) bool {
	for _, a := range list {
		if a.NodeID == nodeID {
			return true
		}
	}
	return false
}

// ProcMinusFailed returns proc_list ∖ failed_list, sorted.
func (m *Membership) ProcMinusFailed() []totemip.Address {
	out := make([]totemip.Address, 0, len(m.ProcList))
	for _, a := range m.ProcList {
		if !containsNodeID(m.FailedList, a.NodeID) {
			out = append(out, a)
		}
	}
	sortAddrs(out)
	return out
}

// IsRepresentative reports whether Self is the numerically lowest address
// in proc_list ∖ failed_list (spec.md §4.4 "lowest-in-config selection").
func (m *Membership) IsRepresentative() bool {
	live := m.ProcMinusFailed()
	if len(live) == 0 {
		return true
	}
	return totemip.Lowest(live).NodeID == m.Self.NodeID
}

// AddFailed marks nodeID as failed, removing it from proc_list membership
// for representative/consensus purposes while leaving a historical trace
// in FailedList.
func (m *Membership) AddFailed(addr totemip.Address) {
	if !containsNodeID(m.FailedList, addr.NodeID) {
		m.FailedList = append(m.FailedList, addr)
		sortAddrs(m.FailedList)
	}
}

// MergeProc merges other into ProcList (union by NodeID), matching the
// "merge self into proc_list" step on GATHER entry and the "merge the
// sender's sets into ours" fallback of memb_join_process.
func (m *Membership) MergeProc(other []totemip.Address) {
	m.ProcList = dedupeAddrs(append(m.ProcList, other...))
}

// MergeFailed merges other into FailedList (union by NodeID).
func (m *Membership) MergeFailed(other []totemip.Address) {
	m.FailedList = dedupeAddrs(append(m.FailedList, other...))
}

func sameSet(a, b []totemip.Address) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]totemip.Address(nil), a...)
	bs := append([]totemip.Address(nil), b...)
	sortAddrs(as)
	sortAddrs(bs)
	for i := range as {
		if as[i].NodeID != bs[i].NodeID {
			return false
		}
	}
	return true
}

func isSubset(a, b []totemip.Address) bool {
	for _, x := range a {
		if !containsNodeID(b, x.NodeID) {
			return false
		}
	}
	return true
}

// Intersect returns the addresses present (by NodeID) in both a and b,
// used to compute the transitional membership on RECOVERY entry (spec.md
// §4.4).
func Intersect(a, b []totemip.Address) []totemip.Address {
	out := make([]totemip.Address, 0)
	for _, x := range a {
		if containsNodeID(b, x.NodeID) {
			out = append(out, x)
		}
	}
	sortAddrs(out)
	return out
}

// Joined returns members present in next but absent from prev, by NodeID.
func Joined(prev, next []totemip.Address) []totemip.Address {
	out := make([]totemip.Address, 0)
	for _, x := range next {
		if !containsNodeID(prev, x.NodeID) {
			out = append(out, x)
		}
	}
	sortAddrs(out)
	return out
}

// Left returns members present in prev but absent from next, by NodeID.
func Left(prev, next []totemip.Address) []totemip.Address {
	return Joined(next, prev)
}
