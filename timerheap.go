package sched

import (
	"container/heap"
	"time"
)

// ClockID selects the time base a Timer's deadline is expressed in.
// Translating to the heap's common monotonic basis is the heap's
// responsibility.
type ClockID int

const (
	// ClockMonotonic is the general-purpose monotonic clock.
	ClockMonotonic ClockID = iota
	// ClockMonotonicRaw is the monotonic clock unaffected by NTP frequency
	// adjustment; the run loop services timers against this clock.
	ClockMonotonicRaw
	// ClockRealtime is the wall-clock, settable by the platform.
	ClockRealtime
)

// TimerHandler produces the Task to run when a Timer fires. It is invoked
// with the Timer's own deadline, so a periodic handler can compute drift if
// it wants to.
type TimerHandler func(deadline time.Time) Task

// Timer is an entry in the timer heap: a deadline, an optional period, and
// the handler to enqueue onto runqueue when it expires. A cancelled Timer
// is never applied, and a periodic Timer is re-inserted at
// deadline+interval after its handler fires.
type Timer struct {
	clockID  ClockID
	deadline time.Time
	interval time.Duration // zero means one-shot
	handler  TimerHandler
	cancelled bool
	seq      uint64 // insertion order, for FIFO tie-break on equal deadlines
	index    int    // heap.Interface bookkeeping
}

// Cancelled reports whether Cancel has been called on this Timer.
func (t *Timer) Cancelled() bool { return t.cancelled }

// Deadline returns the timer's next scheduled fire time.
func (t *Timer) Deadline() time.Time { return t.deadline }

// timerHeap is a min-heap of *Timer ordered by (deadline, insertion order),
// implemented via container/heap over a slice of pointers so Cancel can
// flip a flag on an entry already sitting in the heap.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerHeap is the deadline-ordered structure backing runloop_timers.
// Mutations are only safe while the caller holds the kernel lock.
type TimerHeap struct {
	heap    timerHeap
	nextSeq uint64
	now     func(ClockID) time.Time
}

// NewTimerHeap builds an empty heap. now resolves a ClockID to the current
// time for that clock; callers normally pass Platform.Now.
func NewTimerHeap(now func(ClockID) time.Time) *TimerHeap {
	return &TimerHeap{now: now}
}

// RegisterRelative inserts a Timer whose deadline is delay from now() on
// clockID. A non-zero interval makes the timer periodic: Service
// re-registers it at fireTime+interval after each firing. This is the
// absolute=false form of kern_register_timer's register operation.
func (h *TimerHeap) RegisterRelative(clockID ClockID, delay time.Duration, interval time.Duration, handler TimerHandler) *Timer {
	return h.RegisterAt(clockID, h.now(clockID).Add(delay), interval, handler)
}

// RegisterAt inserts a Timer with an explicit absolute deadline — the
// absolute=true form of kern_register_timer's register operation. This is
// the form it uses once the caller has already resolved a relative delay
// against now().
func (h *TimerHeap) RegisterAt(clockID ClockID, deadline time.Time, interval time.Duration, handler TimerHandler) *Timer {
	t := &Timer{
		clockID:  clockID,
		deadline: deadline,
		interval: interval,
		handler:  handler,
		seq:      h.nextSeq,
	}
	h.nextSeq++
	heap.Push(&h.heap, t)
	return t
}

// Cancel marks t dead. A cancelled timer already popped by a concurrent
// Service (impossible without the kernel lock, but cheap to guard anyway)
// is simply never applied.
func (h *TimerHeap) Cancel(t *Timer) {
	t.cancelled = true
}

// Service pops and fires every non-cancelled entry with deadline <= now,
// enqueueing each handler's Task onto dst, and reinserts periodic timers at
// deadline+interval. Handlers fire in non-decreasing deadline order.
func (h *TimerHeap) Service(now time.Time, dst *Queue) {
	for h.heap.Len() > 0 {
		next := h.heap[0]
		if next.deadline.After(now) {
			return
		}
		heap.Pop(&h.heap)
		if next.cancelled {
			continue
		}
		fired := next.deadline
		task := next.handler(fired)
		if task != nil && !dst.Enqueue(task) {
			halt("runqueue full while servicing timer")
		}
		if next.interval > 0 && !next.cancelled {
			next.deadline = fired.Add(next.interval)
			next.seq = h.nextSeq
			h.nextSeq++
			heap.Push(&h.heap, next)
		}
	}
}

// NextDeadline returns the deadline of the earliest non-cancelled entry and
// true, or the zero time and false if the heap is empty. Cancelled entries
// still occupy heap slots until they reach the root (cheap tombstoning,
// matching the original's lazy-cancel semantics); this pops any cancelled
// entries it finds at the root before reporting the live one.
func (h *TimerHeap) NextDeadline() (time.Time, bool) {
	// The common case is O(1): index 0 is live. A run of cancelled entries
	// at the root is popped here, one heap.Pop each.
	for h.heap.Len() > 0 {
		root := h.heap[0]
		if !root.cancelled {
			return root.deadline, true
		}
		heap.Pop(&h.heap)
	}
	return time.Time{}, false
}

// Len reports the number of entries still resident in the heap, including
// not-yet-swept cancelled ones.
func (h *TimerHeap) Len() int { return h.heap.Len() }
