package sched

import "sync/atomic"

// CpuState is the execution state of a logical CPU.
//
// Transitions are owned exclusively by the CPU they describe, with one
// exception: the Idle bit published in the scheduler's idle mask must be
// observable atomically by other CPUs (see IdleMask).
type CpuState uint32

const (
	// StateNotPresent marks a CPU slot that has not completed SMP bring-up.
	StateNotPresent CpuState = iota
	// StateIdle marks a CPU blocked in wait_for_interrupt.
	StateIdle
	// StateKernel marks a CPU executing the run loop outside an interrupt.
	StateKernel
	// StateInterrupt marks a CPU inside an interrupt handler. A CPU in this
	// state must never attempt to acquire the kernel lock.
	StateInterrupt
	// StateUser marks a CPU executing a resumed user thread.
	StateUser
)

var cpuStateStrings = [...]string{
	StateNotPresent: "not present",
	StateIdle:       "idle",
	StateKernel:     "kernel",
	StateInterrupt:  "interrupt",
	StateUser:       "user",
}

// String returns the human-readable state name used in diagnostics.
func (s CpuState) String() string {
	if int(s) < len(cpuStateStrings) {
		return cpuStateStrings[s]
	}
	return "unknown"
}

// cpuStateBox is a lock-free holder for a CpuState, cache-line padded to
// avoid false sharing between the owning CPU's writes and peer CPUs'
// diagnostic reads of ci.state.
type cpuStateBox struct { //nolint:govet
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func newCPUStateBox(initial CpuState) *cpuStateBox {
	b := &cpuStateBox{}
	b.v.Store(uint32(initial))
	return b
}

// Load returns the current state. Safe for any CPU to call (racy by design:
// callers observing a peer's state must tolerate staleness).
func (b *cpuStateBox) Load() CpuState {
	return CpuState(b.v.Load())
}

// Store sets the state. Must only be called by the owning CPU.
func (b *cpuStateBox) Store(s CpuState) {
	b.v.Store(uint32(s))
}
