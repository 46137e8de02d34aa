package sched

import (
	"sync/atomic"
	"time"
)

// Default timer reprogram bounds, overridable via WithTimerBounds.
// Mirrors schedule.c's runloop_timer_min/max.
const (
	DefaultTimerMinPeriod = 10 * time.Microsecond
	DefaultTimerMaxPeriod = 100 * time.Millisecond
)

// Scheduler is the global context shared across all CPUs: the kernel
// lock, the timer wheel, the bottom-half and run queues,
// the idle bitmap, and the platform collaborator. One instance exists per
// booted machine, constructed once by InitScheduler.
type Scheduler struct {
	platform Platform

	cpus []*CPU
	idle *IdleMask

	lock kernelLock

	timers   *TimerHeap
	bhQueue  *Queue
	runQueue *Queue

	wakeupVector   IPIVector
	shutdownVector IPIVector

	shuttingDown atomic.Bool

	timerMinPeriod time.Duration
	timerMaxPeriod time.Duration

	metrics *Metrics

	// lastTimerUpdate is the scheduler-wide view schedule.c keeps alongside
	// each CPU's own copy; update_timer writes both atomically under the
	// kernel lock.
	lastTimerUpdate time.Time

	// PeriodicMaintenance, if set, is invoked from Phase 2(c) on every CPU
	// that acquires the kernel lock, between draining runqueue and
	// reprogramming the timer — schedule.c's mm_service() call slot. It is
	// a no-op by default; memory-management bookkeeping itself is out of
	// this package's scope.
	PeriodicMaintenance func(*CPU)
}

// InitScheduler brings up an n-CPU machine on platform, applying opts. It
// is a one-shot lifecycle entry point: calling it twice on the same
// *Scheduler is not supported, mirroring init_scheduler's single-call
// contract in schedule.c.
func InitScheduler(platform Platform, n int, opts ...SchedulerOption) (*Scheduler, error) {
	if platform == nil {
		return nil, &FatalInvariant{Message: "nil platform"}
	}
	if n <= 0 {
		return nil, ErrInvalidCPUCount
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.queueCapacity <= 0 {
		return nil, ErrQueueCapacity
	}

	s := &Scheduler{
		platform:       platform,
		idle:           NewIdleMask(n),
		bhQueue:        NewQueue(cfg.queueCapacity),
		runQueue:       NewQueue(cfg.queueCapacity),
		timerMinPeriod: cfg.timerMinPeriod,
		timerMaxPeriod: cfg.timerMaxPeriod,
		metrics:        cfg.metrics,
	}
	s.timers = NewTimerHeap(platform.Now)

	s.cpus = make([]*CPU, n)
	for i := 0; i < n; i++ {
		c := NewCPU(i, cfg.queueCapacity)
		if cfg.pauseHook != nil {
			c.setPauseHook(func() { cfg.pauseHook(c.ID) })
		}
		s.cpus[i] = c
	}

	s.wakeupVector = platform.AllocateIPIInterrupt()
	s.shutdownVector = platform.AllocateIPIInterrupt()
	if s.wakeupVector == s.shutdownVector {
		return nil, ErrTimerSourceInit
	}

	// One handler per vector, shared by every CPU: the handler itself asks
	// the platform which CPU is currently running it (platform.CurrentCPU),
	// the same way schedule.c's ISRs use current_cpu() rather than being
	// registered once per core.
	platform.RegisterInterrupt(s.wakeupVector, func() { s.onWakeupIPI() }, "sched-wakeup")
	platform.RegisterInterrupt(s.shutdownVector, func() { s.onShutdownIPI() }, "sched-shutdown")

	logf(LevelInfo, "init", -1, "scheduler initialized with %d cpus", n)
	return s, nil
}

// CPUCount returns the number of CPUs this scheduler manages.
func (s *Scheduler) CPUCount() int { return len(s.cpus) }

// Metrics returns the scheduler's counter set, installed via WithMetrics
// or defaulted fresh by InitScheduler.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// CPU returns the CPU descriptor for id, or nil if out of range.
func (s *Scheduler) CPU(id int) *CPU {
	if id < 0 || id >= len(s.cpus) {
		return nil
	}
	return s.cpus[id]
}

// EnqueueBH submits a bottom-half completion task, drained by every CPU's
// Phase 1 without needing the kernel lock.
func (s *Scheduler) EnqueueBH(t Task) {
	if !s.bhQueue.Enqueue(t) {
		halt("bhqueue full (capacity %d)", s.bhQueue.Len())
	}
}

// EnqueueRunQueue submits a kernel-lock-protected task, drained only by a
// CPU that currently holds the kernel lock.
func (s *Scheduler) EnqueueRunQueue(t Task) {
	if !s.runQueue.Enqueue(t) {
		halt("runqueue full (capacity %d)", s.runQueue.Len())
	}
}

// EnqueueThread submits a user thread to the named CPU's thread queue.
// Another CPU may later steal it via migration.
func (s *Scheduler) EnqueueThread(cpu int, t Task) {
	c := s.CPU(cpu)
	if c == nil {
		halt("enqueue thread: no such cpu %d", cpu)
	}
	if !c.threadQueue.Enqueue(t) {
		halt("cpu %d thread queue full (capacity %d)", cpu, c.threadQueue.Len())
	}
}

// RegisterTimer is the kern_register_timer equivalent: schedules handler to
// run on whichever CPU next services the timer heap, delivered onto the
// run queue so it executes under the kernel lock.
func (s *Scheduler) RegisterTimer(clockID ClockID, delay, interval time.Duration, handler TimerHandler) *Timer {
	return s.timers.RegisterRelative(clockID, delay, interval, handler)
}

// Lock is kern_lock: acquires the kernel lock, spinning with interrupts
// enabled until it succeeds. Exposed for drivers and syscall-layer code
// that must mutate lock-protected state (the timer heap, the run queue)
// outside of the run loop's own Phase 2.
func (s *Scheduler) Lock() { s.lock.lock(s.platform) }

// TryLock is kern_try_lock: attempts to acquire the kernel lock without
// blocking. Must not be called from interrupt context.
func (s *Scheduler) TryLock() bool { return s.lock.tryLock() }

// Unlock is kern_unlock: releases the kernel lock acquired via Lock or a
// successful TryLock.
func (s *Scheduler) Unlock() { s.lock.unlock() }

// CancelTimer cancels t. Like every timer-heap mutation it must be made
// while holding the kernel lock; the cancelled entry stays in the heap and
// is dropped once it reaches the root.
func (s *Scheduler) CancelTimer(t *Timer) { s.timers.Cancel(t) }

// ShuttingDown reports whether Shutdown has been called.
func (s *Scheduler) ShuttingDown() bool { return s.shuttingDown.Load() }

// Shutdown sets the shutting-down flag and fans the shutdown IPI out to
// every CPU. No queue cleanup is performed — the
// scheduler's contract is that a shutting-down machine never drains its
// queues again, not that it drains them empty first.
func (s *Scheduler) Shutdown() {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	logf(LevelInfo, "shutdown", -1, "shutdown requested, broadcasting to %d cpus", len(s.cpus))
	for _, c := range s.cpus {
		s.platform.SendIPI(c.ID, s.shutdownVector)
	}
}

// withInterruptState brackets fn with the StateInterrupt transition every
// ISR runs under, restoring whatever state the CPU was in before the
// interrupt landed.
func (s *Scheduler) withInterruptState(c *CPU, fn func()) {
	prev := c.State()
	c.setState(StateInterrupt)
	fn()
	c.setState(prev)
}

func (s *Scheduler) onWakeupIPI() {
	c := s.platform.CurrentCPU()
	s.withInterruptState(c, func() {
		logf(LevelDebug, "ipi", c.ID, "wakeup ipi observed")
	})
}

func (s *Scheduler) onShutdownIPI() {
	c := s.platform.CurrentCPU()
	s.withInterruptState(c, func() {
		logf(LevelDebug, "ipi", c.ID, "shutdown ipi observed")
	})
	s.platform.MachineHalt()
}

// wakeupCPU delivers the wakeup IPI to cpu if and only if it is currently
// marked idle, clearing the idle bit as part of the same test-and-clear
// (schedule.c's wakeup_cpu). Returns whether the IPI was actually sent.
func (s *Scheduler) wakeupCPU(cpu int) bool {
	if !s.idle.ClearIdle(cpu) {
		return false
	}
	s.platform.SendIPI(cpu, s.wakeupVector)
	return true
}

// WakeupOrInterruptAll forces a rendezvous with every other CPU: idle CPUs
// are woken via the idle-mask test-and-clear, busy CPUs get an IPI
// regardless so they re-enter the run loop on their next opportunity
// (schedule.c's wakeup_or_interrupt_cpu_all).
func (s *Scheduler) WakeupOrInterruptAll(exclude int) {
	for _, c := range s.cpus {
		if c.ID == exclude {
			continue
		}
		if s.wakeupCPU(c.ID) {
			continue
		}
		s.platform.SendIPI(c.ID, s.wakeupVector)
	}
}
