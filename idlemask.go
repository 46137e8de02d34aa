package sched

import (
	"math/bits"
	"sync/atomic"
)

// idleMaskWordBits is the width of a bitmap word.
const idleMaskWordBits = 64

// IdleMask is a lock-free atomic bitmap recording which CPUs are currently
// blocked in the idle state (StateIdle, about to or already inside
// WaitForInterrupt). It is the sole cross-CPU hint consulted by the
// migration protocol; it is allowed to be momentarily stale — a CPU may
// appear idle just as it wakes.
type IdleMask struct {
	words []atomic.Uint64
	n     int
}

// NewIdleMask allocates a bitmap sized for n logical CPUs.
func NewIdleMask(n int) *IdleMask {
	if n < 0 {
		n = 0
	}
	return &IdleMask{
		words: make([]atomic.Uint64, (n+idleMaskWordBits-1)/idleMaskWordBits+1),
		n:     n,
	}
}

// MarkIdle sets bit cpu. Must be called by cpu itself, immediately before
// WaitForInterrupt, so that a concurrent SendIPI that observes the bit is
// guaranteed to find the CPU either about to halt or already halted.
func (m *IdleMask) MarkIdle(cpu int) {
	w, bit := cpu/idleMaskWordBits, uint(cpu%idleMaskWordBits)
	m.words[w].Or(uint64(1) << bit)
}

// ClearIdle clears bit cpu and returns whether it was previously set.
// Used by wakeupCPU as a test-and-clear: only a CPU transitioning from idle
// needs an IPI to break it out of WaitForInterrupt.
func (m *IdleMask) ClearIdle(cpu int) bool {
	w, bit := cpu/idleMaskWordBits, uint(cpu%idleMaskWordBits)
	mask := uint64(1) << bit
	for {
		old := m.words[w].Load()
		if old&mask == 0 {
			return false
		}
		if m.words[w].CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

// IsIdle reports whether bit cpu is currently set. Advisory only.
func (m *IdleMask) IsIdle(cpu int) bool {
	w, bit := cpu/idleMaskWordBits, uint(cpu%idleMaskWordBits)
	return m.words[w].Load()&(uint64(1)<<bit) != 0
}

// FirstSetInRange returns the lowest CPU id in [start, start+count) whose
// idle bit is set, or (-1, false) if none is set. The search is a snapshot:
// bits may flip concurrently, which is fine because callers (migration)
// always re-verify via MPMC dequeue before acting.
func (m *IdleMask) FirstSetInRange(start, count int) (int, bool) {
	if count <= 0 || start >= m.n {
		return -1, false
	}
	end := start + count
	if end > m.n {
		end = m.n
	}
	for cpu := start; cpu < end; {
		w := cpu / idleMaskWordBits
		word := m.words[w].Load()
		// Mask off bits below cpu within this word.
		word &^= (uint64(1) << uint(cpu%idleMaskWordBits)) - 1
		if word == 0 {
			cpu = (w + 1) * idleMaskWordBits
			continue
		}
		found := w*idleMaskWordBits + bits.TrailingZeros64(word)
		if found >= end {
			return -1, false
		}
		return found, true
	}
	return -1, false
}
