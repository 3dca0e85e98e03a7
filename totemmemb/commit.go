package totemmemb

import "github.com/virtualsync/totemsrp/totemip"

// PriorRingState is the prior-ring bookkeeping a processor stamps into its
// commit-token slot on COMMIT entry (spec.md §4.4 "COMMIT entry").
type PriorRingState struct {
	ARU           uint32
	HighDelivered uint32
	ReceivedFlag  bool
}

// CommitToken tracks one commit token's rotation around NewMembList.
// Index is the slot the token is currently addressed to; the rotation
// completes once Index reaches len(Addr) having visited every member.
type CommitToken struct {
	Addr    []totemip.Address
	Entries []PriorRingState
	Index   uint32
}

// NewCommitToken builds an empty commit token addressed to every member of
// membership, in the order the representative observed consensus.
func NewCommitToken(members []totemip.Address) *CommitToken {
	return &CommitToken{
		Addr:    append([]totemip.Address(nil), members...),
		Entries: make([]PriorRingState, len(members)),
	}
}

// StampSelf records this processor's prior-ring state at its own slot and
// advances Index to the next member, implementing the per-hop update the
// commit token receives as it circulates (spec.md §4.4 "COMMIT entry").
// Returns true once the token has visited every member (Index == len(Addr)).
func (c *CommitToken) StampSelf(selfNodeID uint32, state PriorRingState) bool {
	for i, a := range c.Addr {
		if a.NodeID == selfNodeID {
			c.Entries[i] = state
			break
		}
	}
	c.Index++
	return c.Index >= uint32(len(c.Addr))
}

// NextHop returns the address the token should be unicast to next, or
// false if the rotation is already complete.
func (c *CommitToken) NextHop() (totemip.Address, bool) {
	if c.Index >= uint32(len(c.Addr)) {
		return totemip.Address{}, false
	}
	return c.Addr[c.Index], true
}
