package sched

import (
	"errors"
	"fmt"
)

// Sentinel errors for the legitimately reportable boot-time/initialization
// failures. Everything else the scheduler detects at steady state is an
// invariant violation and goes through halt, never through a returned
// error.
var (
	// ErrSchedulerAlreadyRunning is declared for callers to match on; no
	// function in this package returns it, since every InitScheduler call
	// builds an independent Scheduler.
	ErrSchedulerAlreadyRunning = errors.New("sched: scheduler already initialized")
	// ErrInvalidCPUCount is returned by InitScheduler for n <= 0.
	ErrInvalidCPUCount = errors.New("sched: invalid cpu count")
	// ErrTimerSourceInit is returned by InitScheduler when the platform
	// hands out the same vector for the wakeup and shutdown IPIs.
	ErrTimerSourceInit = errors.New("sched: timer/IPI source initialization failed")
	// ErrQueueCapacity is returned by InitScheduler for a non-positive queue
	// capacity override.
	ErrQueueCapacity = errors.New("sched: invalid queue capacity")
)

// FatalInvariant wraps a detected invariant violation. It is the value
// halt() panics with, so that a recovering test harness (or, on real
// hardware, the platform's own panic-to-halt glue) can still recover the
// diagnostic message and the wrapped cause, if any. It is also returned as
// an error by InitScheduler for a nil platform and by NewPlatformLinux when
// epoll or timerfd setup fails.
type FatalInvariant struct {
	Message string
	Cause   error
}

func (e *FatalInvariant) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sched: fatal invariant violation: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("sched: fatal invariant violation: %s", e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *FatalInvariant) Unwrap() error { return e.Cause }

// halt is the single choke point every invariant-violation path in this
// package calls: a full bhqueue/runqueue/thread-queue enqueue, the run
// loop's kernel-lock attempt from interrupt state, an unknown CPU id, a
// thread lost during migration, or a platform failure (an unbound CPU, a failed eventfd or
// timer call). CpuState transitions are not checked, and InitScheduler
// reports a timer/IPI vector clash as ErrTimerSourceInit rather than
// halting. These never return to the caller —
// they panic with a diagnostic, which on real hardware the platform's
// machine_halt-backed recover glue turns into a halt.
func halt(format string, args ...any) {
	err := &FatalInvariant{Message: fmt.Sprintf(format, args...)}
	logf(LevelError, "halt", -1, "%s", err.Message)
	panic(err)
}
