package sched

import "time"

// RunLoop drives ci forever, one call to runLoopIteration per trip,
// stopping once Shutdown has been observed. The original runloop_internal
// is a noreturn tail-call chain; here it is reshaped into an ordinary loop around one iteration,
// since Go has no tail-call guarantee and an unbounded call stack would
// defeat the simulation. Each iteration is exactly one pass through Phases
// 0-4 and is re-entered on every return from WaitForInterrupt or from
// running a resumed thread.
func (s *Scheduler) RunLoop(cpuID int) {
	ci := s.CPU(cpuID)
	if ci == nil {
		halt("run loop: no such cpu %d", cpuID)
	}
	for !s.ShuttingDown() {
		s.runLoopIteration(ci)
	}
	ci.setState(StateNotPresent)
	s.platform.MachineHalt()
}

// runLoopIteration is one trip through Phases 0-4:
//
//	Phase 0 - pause whatever user thread this CPU resumed last iteration.
//	Phase 1 - drain the bottom-half completion queue; no kernel lock needed.
//	Phase 2 - opportunistically take the kernel lock: service expired
//	          timers onto the run queue, drain the run queue, run periodic
//	          maintenance, then reprogram the hardware timer for the next
//	          deadline. Skipped entirely if the lock is contended.
//	Phase 3 - dequeue (or steal, or make room by pushing) a user thread.
//	Phase 4 - resume the obtained thread, or mark idle and sleep.
func (s *Scheduler) runLoopIteration(ci *CPU) {
	s.metrics.RunloopIterations.Add(1)

	ci.pauseCurrentThread()
	ci.setState(StateKernel)

	s.drainBH(ci)
	reprogrammed := s.tryKernelWork(ci)

	t, ok := ci.threadQueue.Dequeue()
	if ok {
		// Own queue had something; see if a backlog remains worth pushing
		// to an idle peer before this CPU commits to running it.
		s.migrateFromSelf(ci)
	} else {
		t, ok = s.migrateToSelf(ci)
	}

	if ok {
		// If Phase 2 didn't reprogram the timer this trip (lock contended,
		// or the deadline hadn't moved), this CPU is about to disappear
		// into the resumed thread and won't revisit migration on its own;
		// force a bound on how long it stays away by arming a fallback
		// deadline, but only when there's another CPU for migration to
		// matter to.
		if !reprogrammed && len(s.cpus) > 1 {
			s.platform.RunloopTimer(s.timerMaxPeriod)
		}
		ci.noteThreadResumed()
		ci.setState(StateUser)
		runTask(t)
		return
	}

	// Phase 4, idle path. sched_thread_pause's second, idempotent call:
	// nothing changed since Phase 0 because no thread was obtained, so
	// this is a no-op.
	ci.pauseCurrentThread()
	ci.setState(StateIdle)
	s.idle.MarkIdle(ci.ID)
	s.metrics.IdleEntries.Add(1)

	s.platform.WaitForInterrupt()

	s.idle.ClearIdle(ci.ID)
}

// drainBH runs every bottom-half task queued so far. Bottom halves never
// need the kernel lock, so this always makes progress regardless of lock
// contention.
func (s *Scheduler) drainBH(ci *CPU) {
	for {
		t, ok := s.bhQueue.Dequeue()
		if !ok {
			return
		}
		runTask(t)
		s.metrics.BHTasksDrained.Add(1)
	}
}

// tryKernelWork attempts the kernel lock non-blockingly; if acquired, it
// services expired timers (which may enqueue fresh run-queue tasks),
// drains the run queue, runs periodic maintenance, and reprograms the
// hardware timer for the next deadline, all before releasing the lock.
// If the lock is contended this CPU skips this phase entirely for this
// iteration rather than waiting — another CPU already holds it and will
// do this work. Returns whether the hardware timer was actually
// reprogrammed (false if the lock was contended, or if it was acquired
// but updateTimer found nothing had changed).
func (s *Scheduler) tryKernelWork(ci *CPU) bool {
	if ci.State() == StateInterrupt {
		halt("kern_try_lock from interrupt state on cpu %d", ci.ID)
	}
	if !s.lock.tryLock() {
		s.metrics.LockContentions.Add(1)
		return false
	}
	ci.haveKernelLock = true
	defer func() {
		ci.haveKernelLock = false
		s.lock.unlock()
	}()

	now := s.platform.Now(ClockMonotonicRaw)
	s.timers.Service(now, s.runQueue)

	for {
		t, ok := s.runQueue.Dequeue()
		if !ok {
			break
		}
		runTask(t)
		s.metrics.RunQueueDrained.Add(1)
	}

	if s.PeriodicMaintenance != nil {
		s.PeriodicMaintenance(ci)
	}

	return s.updateTimer(ci, now)
}

// updateTimer arms the platform's one-shot timer for the next heap
// deadline, clamped to [timerMinPeriod, timerMaxPeriod], and records the
// armed deadline on both the CPU and the scheduler, matching
// schedule.c's update_timer writing ci->last_timer_update alongside the
// global copy. If the next deadline is unchanged from the last-programmed
// one, it does nothing and returns false — this is what lets
// RUNLOOP_TIMER_MIN_PERIOD_US coalescing actually avoid redundant
// reprograms across repeated Phase 2 entries.
func (s *Scheduler) updateTimer(ci *CPU, now time.Time) bool {
	next, hasNext := s.timers.NextDeadline()
	if hasNext && next.Equal(s.lastTimerUpdate) {
		return false
	}

	var timeout time.Duration
	if hasNext {
		timeout = next.Sub(now)
	} else {
		timeout = s.timerMaxPeriod
	}
	if timeout < s.timerMinPeriod {
		timeout = s.timerMinPeriod
	}
	if timeout > s.timerMaxPeriod {
		timeout = s.timerMaxPeriod
	}

	deadline := now.Add(timeout)
	ci.lastTimerUpdate = deadline
	s.lastTimerUpdate = deadline
	s.metrics.TimerReprograms.Add(1)

	s.platform.RunloopTimer(timeout)
	return true
}
