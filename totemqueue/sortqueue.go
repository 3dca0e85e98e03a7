// Package totemqueue implements the sequence-indexed sort queues that back
// message reassembly and retransmission (spec.md §4.2): a fixed window of
// slots addressed by wrap-safe sequence number rather than insertion order.
//
// Grounded on the teacher's pool/ring.go RingBuffer[T]: same fixed-capacity,
// power-of-two-masked backing array and the same "no internal locking,
// caller serializes" contract (totemsrp's event loop is single-threaded per
// spec.md §5, so the atomic bookkeeping pool/ring.go needs for cross-thread
// use is unnecessary here and is dropped in favor of plain fields).
package totemqueue

import "github.com/virtualsync/totemsrp/totemerrs"

// Size is the fixed window every sort queue uses, matching spec.md's
// QUEUE_RTR_ITEMS_SIZE_MAX bound on outstanding unacknowledged messages.
const Size = 256

const mask = Size - 1

// SortQueue is a sequence-indexed window of at most Size outstanding slots.
// Head is the oldest sequence number still tracked; slots below Head have
// been released and their storage reused. Sequence numbers wrap at 2^32 and
// are compared with wrap-safe arithmetic (spec.md §3's ARU comparison rule).
type SortQueue[T any] struct {
	data   []entry[T]
	head   uint32
	hasLow bool
}

type entry[T any] struct {
	present bool
	seq     uint32
	val     T
}

// New returns an empty queue whose head (lowest valid sequence number) is
// not yet established; the first Add fixes it via Reinit semantics.
func New[T any]() *SortQueue[T] {
	return &SortQueue[T]{data: make([]entry[T], Size)}
}

// Reinit resets the queue to track window [head, head+Size), discarding any
// held items. Used when a ring reforms and sequence numbering restarts
// (spec.md §4.4 RECOVERY entry).
func (q *SortQueue[T]) Reinit(head uint32) {
	for i := range q.data {
		q.data[i] = entry[T]{}
	}
	q.head = head
	q.hasLow = true
}

// seqDelta returns seq-head as a wrap-safe signed distance.
func seqDelta(seq, head uint32) int64 {
	return int64(int32(seq - head))
}

// InRange reports whether seq falls within the current window.
func (q *SortQueue[T]) InRange(seq uint32) bool {
	if !q.hasLow {
		return true
	}
	d := seqDelta(seq, q.head)
	return d >= 0 && d < Size
}

// InUse reports whether a slot is currently occupied (already Add'ed and
// not yet released by ReleaseUpTo).
func (q *SortQueue[T]) InUse(seq uint32) bool {
	if !q.InRange(seq) {
		return false
	}
	e := q.data[seq&mask]
	return e.present && e.seq == seq
}

// Add stores val at seq. Returns totemerrs.ErrQueueFull if seq falls outside
// the current window (the caller should request retransmission or drop per
// spec.md §7's unknown-range handling).
func (q *SortQueue[T]) Add(seq uint32, val T) error {
	if !q.hasLow {
		q.head = seq
		q.hasLow = true
	}
	if !q.InRange(seq) {
		return totemerrs.ErrQueueFull
	}
	q.data[seq&mask] = entry[T]{present: true, seq: seq, val: val}
	return nil
}

// Get returns the item stored at seq, if any.
func (q *SortQueue[T]) Get(seq uint32) (T, bool) {
	var zero T
	if !q.InUse(seq) {
		return zero, false
	}
	return q.data[seq&mask].val, true
}

// ReleaseUpTo drains every contiguous present slot starting at the current
// head through aru (inclusive), advancing head past the released run. Items
// are returned in ascending sequence order — this is how the ARU advance
// (spec.md §4.3 step 6) turns into application delivery order.
func (q *SortQueue[T]) ReleaseUpTo(aru uint32) []T {
	if !q.hasLow {
		return nil
	}
	var out []T
	for seqDelta(q.head, aru) <= 0 {
		idx := q.head & mask
		e := q.data[idx]
		if !e.present || e.seq != q.head {
			break
		}
		out = append(out, e.val)
		q.data[idx] = entry[T]{}
		q.head++
	}
	return out
}

// Head returns the lowest sequence number still tracked by the window.
func (q *SortQueue[T]) Head() uint32 {
	return q.head
}

// Copy returns an independent deep copy, used when a recovery sort queue is
// seeded from the regular queue's contents on ring reformation (spec.md
// §4.4 RECOVERY entry).
func (q *SortQueue[T]) Copy() *SortQueue[T] {
	out := &SortQueue[T]{
		data:   make([]entry[T], Size),
		head:   q.head,
		hasLow: q.hasLow,
	}
	copy(out.data, q.data)
	return out
}
