// Package totemdeliver implements messages_deliver_to_app (spec.md §4.5):
// walking the regular sort queue from the last delivered sequence up to a
// caller-supplied end point, filtering transitional deliveries against
// deliver_memb_list, and invoking the upper service's deliver callback in
// strict sequence order.
//
// Grounded on the teacher's internal/concurrency/eventloop.go's batched
// dispatch loop (drain a bounded run of queued items, invoke registered
// handlers in order) generalized from "drain whatever is ready" to the
// gap-aware, skip-aware walk spec.md §4.5 requires.
package totemdeliver

import (
	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemqueue"
	"github.com/virtualsync/totemsrp/totemwire"
)

// DeliverFunc is the upper-service callback invoked once per in-order
// message (spec.md §4.5's deliver_fn(source, iovec, iov_len,
// needs_endian_conversion)).
type DeliverFunc func(source totemip.Address, body []byte, needsEndianConversion bool)

// Walk delivers messages in (highDelivered, endPoint] from q, in sequence
// order, and returns the new high-delivered mark. When skip is false
// (regular, non-transitional delivery), a missing slot stops the walk —
// "agreed order" forbids delivering past a gap. When skip is true
// (transitional delivery after a ring change), a missing slot or a message
// whose originator is absent from deliverMembList is skipped over instead,
// matching spec.md §4.5's transitional-delivery carve-out.
//
// localEndianDetector is compared against each message's own header to
// compute needsEndianConversion for the callback.
func Walk(
	q *totemqueue.SortQueue[*totemwire.Mcast],
	highDelivered uint32,
	endPoint uint32,
	skip bool,
	deliverMembList []totemip.Address,
	localEndianDetector uint16,
	deliver DeliverFunc,
) uint32 {
	seq := highDelivered + 1
	for int64(int32(endPoint-seq)) >= 0 {
		if !q.InRange(seq) {
			break
		}
		msg, ok := q.Get(seq)
		if !ok {
			if !skip {
				break
			}
			highDelivered = seq
			seq++
			continue
		}
		if skip && !inDeliverList(msg.Source, deliverMembList) {
			highDelivered = seq
			seq++
			continue
		}
		needsSwap := msg.Header.EndianDetector != localEndianDetector
		deliver(msg.Source, msg.Body, needsSwap)
		highDelivered = seq
		seq++
	}
	return highDelivered
}

func inDeliverList(a totemip.Address, list []totemip.Address) bool {
	for _, m := range list {
		if m.NodeID == a.NodeID {
			return true
		}
	}
	return false
}

// ReceivedFlag recomputes my_received_flg = (aru == highSeqReceived),
// the closing step of spec.md §4.5's delivery pipeline.
func ReceivedFlag(aru, highSeqReceived uint32) bool {
	return aru == highSeqReceived
}
