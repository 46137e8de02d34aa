package sched

import "sync/atomic"

// DefaultQueueCapacity is the fixed capacity used by bhqueue, runqueue, and
// every per-CPU thread queue.
const DefaultQueueCapacity = 2048

// Queue is a bounded, fixed-capacity MPMC queue safe to use from interrupt
// context: Enqueue and Dequeue never block and never allocate after
// construction, using only a bounded CAS retry loop.
//
// It is the classic bounded MPMC ring (Vyukov): every slot carries its own
// sequence number, so producers and consumers claim slots independently
// via CAS on the tail/head cursor without ever taking a lock — the full
// MPMC shape cross-CPU thread-queue stealing requires, as opposed to a
// single-consumer ring that would only suit one fixed drainer.
type Queue struct {
	mask  uint64
	slots []queueSlot
	_     [56]byte // separate head/tail cache lines from the slot array header
	head  atomic.Uint64
	_     [56]byte
	tail  atomic.Uint64
}

type queueSlot struct {
	seq  atomic.Uint64
	task Task
}

// NewQueue allocates a queue. capacity is rounded up to the next power of
// two (matching DefaultQueueCapacity, which already is one).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &Queue{
		mask:  uint64(size - 1),
		slots: make([]queueSlot, size),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue attempts to push t. Returns false if the queue is full: a full
// bhqueue or runqueue is a bug the caller must treat as fatal; a full
// per-CPU thread_queue cannot happen by construction (at most one queued
// task per runnable thread).
func (q *Queue) Enqueue(t Task) bool {
	for {
		tail := q.tail.Load()
		slot := &q.slots[tail&q.mask]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(tail); {
		case diff == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				slot.task = t
				slot.seq.Store(tail + 1)
				return true
			}
		case diff < 0:
			return false // full
		default:
			// Another producer has already advanced tail; retry.
		}
	}
}

// Dequeue pops the oldest Task, or returns (nil, false) if the queue is
// currently empty — the "sentinel on empty".
func (q *Queue) Dequeue() (Task, bool) {
	for {
		head := q.head.Load()
		slot := &q.slots[head&q.mask]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(head+1); {
		case diff == 0:
			if q.head.CompareAndSwap(head, head+1) {
				t := slot.task
				slot.task = nil
				slot.seq.Store(head + q.mask + 1)
				return t, true
			}
		case diff < 0:
			return nil, false // empty
		default:
			// Another consumer has already advanced head; retry.
		}
	}
}

// Len returns an approximate, O(1) length snapshot. Racy under concurrent
// mutation by design.
func (q *Queue) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Empty reports whether the queue was observed empty at the time of the
// call.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}
