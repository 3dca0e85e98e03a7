package totemqueue

import (
	"github.com/eapache/queue"
	"github.com/virtualsync/totemsrp/totemerrs"
)

// MessageFIFOMax bounds the new-message and retransmit-message queues
// (spec.md §4.2); Mcast returns totemerrs.ErrQueueFull once either is full,
// the backpressure signal the application-facing Avail() reports against.
const MessageFIFOMax = 512

// MessageFIFO is the bounded new-message / retransmit-message queue: a
// plain FIFO, unlike SortQueue's sequence-indexed window, because entries
// here have not yet been assigned a ring sequence number.
//
// Grounded on eapache/queue.Queue (the teacher's own internal/session
// package uses an unbounded slice-backed queue for a similar purpose; this
// generalizes that to the typed, capacity-checked ring buffer this package
// already exercises via eapache/queue elsewhere in the ecosystem pack).
type MessageFIFO[T any] struct {
	q   *queue.Queue
	cap int
}

// NewMessageFIFO returns an empty FIFO bounded at capacity items.
func NewMessageFIFO[T any](capacity int) *MessageFIFO[T] {
	return &MessageFIFO[T]{q: queue.New(), cap: capacity}
}

// Push appends val, or returns totemerrs.ErrQueueFull if the FIFO is full.
func (f *MessageFIFO[T]) Push(val T) error {
	if f.q.Length() >= f.cap {
		return totemerrs.ErrQueueFull
	}
	f.q.Add(val)
	return nil
}

// Pop removes and returns the oldest item, or ok=false if empty.
func (f *MessageFIFO[T]) Pop() (val T, ok bool) {
	if f.q.Length() == 0 {
		return val, false
	}
	v := f.q.Peek()
	f.q.Remove()
	return v.(T), true
}

// Peek returns the oldest item without removing it.
func (f *MessageFIFO[T]) Peek() (val T, ok bool) {
	if f.q.Length() == 0 {
		return val, false
	}
	return f.q.Peek().(T), true
}

// Len returns the number of queued items.
func (f *MessageFIFO[T]) Len() int {
	return f.q.Length()
}

// Avail reports remaining capacity, mirroring the SDK's Avail() call
// (spec.md §5) so the application can throttle Mcast calls before they'd
// be rejected outright.
func (f *MessageFIFO[T]) Avail() int {
	return f.cap - f.q.Length()
}
