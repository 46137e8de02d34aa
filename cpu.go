package sched

import "time"

// CPU is the per-logical-processor state of a booted CPU: created during
// SMP bring-up, destroyed never. Every field except state (which
// must tolerate racy peer reads for migration/diagnostics) is written only
// by the CPU it describes.
type CPU struct {
	ID int

	state *cpuStateBox

	// threadQueue holds user threads eligible to run on this CPU. It is
	// MPMC because migration lets any other CPU dequeue from it (steal) or
	// enqueue onto it (push).
	threadQueue *Queue

	// lastTimerUpdate is this CPU's view of the deadline the hardware
	// timer was last armed for — schedule.c's ci->last_timer_update.
	lastTimerUpdate time.Time

	// haveKernelLock tracks local ownership of the global kernel lock, so
	// nested-entry and shutdown-path assertions can be made without a
	// cross-CPU read.
	haveKernelLock bool

	// pauseHook, if set, is invoked by pauseCurrentThread to let an
	// external thread runtime (out of scope here) persist
	// architectural state for the thread currently associated with this
	// CPU. threadActive/paused track the idempotency Phase 0 and Phase 4's
	// idle path require: both call pauseCurrentThread, and the
	// second call on an already-paused thread must be a no-op.
	pauseHook    func()
	threadActive bool
	paused       bool
}

// NewCPU constructs a CPU with an empty thread queue of the given capacity.
func NewCPU(id int, queueCapacity int) *CPU {
	return &CPU{
		ID:          id,
		state:       newCPUStateBox(StateNotPresent),
		threadQueue: NewQueue(queueCapacity),
	}
}

// State returns the CPU's current execution state. Safe to call from any
// CPU; a read from a peer is advisory only.
func (c *CPU) State() CpuState { return c.state.Load() }

// setState transitions this CPU's own state. Must only be called by the
// owning CPU.
func (c *CPU) setState(s CpuState) { c.state.Store(s) }

// setPauseHook installs the thread-pause callback. Intended to be called
// once during bring-up, before the CPU's run loop starts.
func (c *CPU) setPauseHook(fn func()) { c.pauseHook = fn }

// noteThreadResumed marks a freshly-dequeued user Task as the CPU's current
// thread, clearing the idempotency guard so the next pauseCurrentThread
// call actually fires.
func (c *CPU) noteThreadResumed() {
	c.threadActive = true
	c.paused = false
}

// pauseCurrentThread invokes the pause hook at most once per resumed
// thread, matching schedule.c's sched_thread_pause idempotency.
func (c *CPU) pauseCurrentThread() {
	if !c.threadActive || c.paused {
		return
	}
	c.paused = true
	if c.pauseHook != nil {
		c.pauseHook()
	}
}
