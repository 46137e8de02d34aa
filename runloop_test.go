package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRunLoop_SingleCPUTimerFires is scenario S1: a single CPU with a
// single registered timer must observe it fire without any other traffic.
func TestRunLoop_SingleCPUTimerFires(t *testing.T) {
	sim := NewPlatformSim(1)
	s, err := InitScheduler(sim, 1, WithTimerBounds(time.Millisecond, 20*time.Millisecond))
	require.NoError(t, err)
	// Registered before the CPU starts, so the timer heap is not mutated
	// outside the kernel lock while the run loop is servicing it.
	fired := make(chan struct{})
	s.RegisterTimer(ClockMonotonic, 10*time.Millisecond, 0, func(time.Time) Task {
		return func() { close(fired) }
	})
	wg := sim.Run(s)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	s.Shutdown()
	waitWithTimeout(t, wg, 2*time.Second)
}

// TestRunLoop_BHCompletionRunsPromptly is S2-shaped: a bottom-half
// completion enqueued on a running two-CPU machine must be drained
// promptly. That the drain does not depend on the kernel lock is checked
// by TestScheduler_DrainBH_RunsRegardlessOfLockContention.
func TestRunLoop_BHCompletionRunsPromptly(t *testing.T) {
	sim := NewPlatformSim(2)
	s, err := InitScheduler(sim, 2)
	require.NoError(t, err)
	wg := sim.Run(s)

	done := make(chan struct{})
	s.EnqueueBH(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bottom half never ran")
	}

	s.Shutdown()
	waitWithTimeout(t, wg, 2*time.Second)
}

func TestRunLoop_UserThreadRuns(t *testing.T) {
	sim := NewPlatformSim(2)
	s, err := InitScheduler(sim, 2)
	require.NoError(t, err)
	wg := sim.Run(s)

	done := make(chan struct{})
	s.EnqueueThread(0, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("user thread never ran")
	}

	s.Shutdown()
	waitWithTimeout(t, wg, 2*time.Second)
}

func TestRunLoop_RunQueueTaskRunsUnderKernelLock(t *testing.T) {
	sim := NewPlatformSim(1)
	s, err := InitScheduler(sim, 1)
	require.NoError(t, err)
	wg := sim.Run(s)

	done := make(chan struct{})
	s.EnqueueRunQueue(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run queue task never ran")
	}

	s.Shutdown()
	waitWithTimeout(t, wg, 2*time.Second)
}

// TestRunLoop_ShutdownBroadcastHaltsAllCPUs is scenario S6: Shutdown must
// eventually stop every CPU's loop, whether it was idle, mid-timer-wait,
// or actively draining work.
func TestRunLoop_ShutdownBroadcastHaltsAllCPUs(t *testing.T) {
	const n = 4
	sim := NewPlatformSim(n)
	s, err := InitScheduler(sim, n)
	require.NoError(t, err)
	wg := sim.Run(s)

	time.Sleep(20 * time.Millisecond) // let every CPU reach its idle wait at least once

	s.Shutdown()
	waitWithTimeout(t, wg, 2*time.Second)

	for i := 0; i < n; i++ {
		require.True(t, sim.Halted(i), "cpu %d did not halt", i)
	}
}

// TestRunLoopIteration_ArmsFallbackTimerWhenPhase2DidNotReprogram covers the
// Phase 4 fallback: if Phase 2 skipped or failed to reprogram the hardware
// timer this trip and more than one CPU exists, resuming a thread must still
// arm a runloop_timer_max-bounded deadline so migration gets revisited even
// while this CPU disappears into user code.
func TestRunLoopIteration_ArmsFallbackTimerWhenPhase2DidNotReprogram(t *testing.T) {
	ci := NewCPU(0, 8)
	peer := NewCPU(1, 8)
	plat := &fakePlatform{cpu: ci}

	s := &Scheduler{
		platform:       plat,
		cpus:           []*CPU{ci, peer},
		idle:           NewIdleMask(2),
		timers:         NewTimerHeap(plat.Now),
		bhQueue:        NewQueue(8),
		runQueue:       NewQueue(8),
		timerMinPeriod: DefaultTimerMinPeriod,
		timerMaxPeriod: DefaultTimerMaxPeriod,
		metrics:        NewMetrics(),
	}

	require.True(t, s.TryLock(), "hold the kernel lock externally so Phase 2 is contended")

	ran := false
	require.True(t, ci.threadQueue.Enqueue(func() { ran = true }))

	s.runLoopIteration(ci)

	require.True(t, ran, "the obtained thread must still run")
	require.Equal(t, []time.Duration{DefaultTimerMaxPeriod}, plat.timerCalls,
		"phase 4 must arm a runloop_timer_max fallback when phase 2 did not reprogram")
}

// TestRunLoopIteration_NoFallbackTimerWhenPhase2Reprogrammed covers the
// companion case: when Phase 2 successfully reprograms the timer, Phase 4
// must not additionally arm the fallback.
func TestRunLoopIteration_NoFallbackTimerWhenPhase2Reprogrammed(t *testing.T) {
	ci := NewCPU(0, 8)
	peer := NewCPU(1, 8)
	plat := &fakePlatform{cpu: ci}

	s := &Scheduler{
		platform:       plat,
		cpus:           []*CPU{ci, peer},
		idle:           NewIdleMask(2),
		timers:         NewTimerHeap(plat.Now),
		bhQueue:        NewQueue(8),
		runQueue:       NewQueue(8),
		timerMinPeriod: DefaultTimerMinPeriod,
		timerMaxPeriod: DefaultTimerMaxPeriod,
		metrics:        NewMetrics(),
	}

	s.timers.RegisterAt(ClockMonotonic, plat.Now(ClockMonotonic).Add(time.Hour), 0, func(time.Time) Task { return nil })
	require.True(t, ci.threadQueue.Enqueue(func() {}))

	s.runLoopIteration(ci)

	require.Equal(t, []time.Duration{DefaultTimerMaxPeriod}, plat.timerCalls,
		"exactly one arm, from phase 2's own reprogram, not a duplicate phase 4 fallback")
}

// TestRunLoopIteration_NoFallbackTimerWithSingleCPU covers the "more than
// one CPU" gate: a single-CPU machine has no migration to revisit, so the
// fallback must not fire even when phase 2 is contended.
func TestRunLoopIteration_NoFallbackTimerWithSingleCPU(t *testing.T) {
	ci := NewCPU(0, 8)
	plat := &fakePlatform{cpu: ci}

	s := &Scheduler{
		platform:       plat,
		cpus:           []*CPU{ci},
		idle:           NewIdleMask(1),
		timers:         NewTimerHeap(plat.Now),
		bhQueue:        NewQueue(8),
		runQueue:       NewQueue(8),
		timerMinPeriod: DefaultTimerMinPeriod,
		timerMaxPeriod: DefaultTimerMaxPeriod,
		metrics:        NewMetrics(),
	}

	require.True(t, s.TryLock())
	require.True(t, ci.threadQueue.Enqueue(func() {}))

	s.runLoopIteration(ci)

	require.Empty(t, plat.timerCalls, "single-cpu machines have no migration to bound with a fallback")
}

func TestRunLoop_IterationCountAdvances(t *testing.T) {
	sim := NewPlatformSim(1)
	s, err := InitScheduler(sim, 1)
	require.NoError(t, err)
	wg := sim.Run(s)

	require.Eventually(t, func() bool {
		return s.Metrics().Snapshot().RunloopIterations > 0
	}, 2*time.Second, time.Millisecond)

	s.Shutdown()
	waitWithTimeout(t, wg, 2*time.Second)
}
