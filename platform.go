package sched

import "time"

// IPIVector identifies an inter-processor interrupt handler registration,
// as allocated by Platform.AllocateIPIInterrupt.
type IPIVector int

// IRQFlags is an opaque token returned by IRQEnableSave and consumed by
// IRQRestore, matching the save/restore pair schedule.c uses around the
// kernel lock spin.
type IRQFlags uint64

// Platform is the set of external collaborators the scheduler core treats
// as opaque: bring-up, interrupt routing, and the hardware one-shot timer
// are out of this module's scope, so they are specified only as the
// interface the scheduler core consumes. Two implementations are
// provided: PlatformSim (pure Go, for tests and the demo) and a Linux
// eventfd/epoll-backed one in platform_linux.go.
type Platform interface {
	// CurrentCPU returns the CPU the calling goroutine/thread represents.
	CurrentCPU() *CPU
	// Now returns the current time for the given clock.
	Now(ClockID) time.Time
	// AllocateIPIInterrupt reserves a fresh IPI vector.
	AllocateIPIInterrupt() IPIVector
	// RegisterInterrupt installs handler for vector, under a human-readable
	// label used only for diagnostics. There is one handler per vector,
	// shared by every CPU; the handler calls CurrentCPU to learn which CPU
	// it is running on.
	RegisterInterrupt(vector IPIVector, handler func(), label string)
	// SendIPI delivers vector to cpu. Must be safe to call from any CPU's
	// context, including from inside another interrupt handler.
	SendIPI(cpu int, vector IPIVector)
	// RunloopTimer arms the platform's one-shot timer to fire after
	// timeout on the calling CPU.
	RunloopTimer(timeout time.Duration)
	// WaitForInterrupt blocks the calling CPU until an interrupt (IPI or
	// timer) is delivered to it. Returns when one has been observed.
	WaitForInterrupt()
	// IRQEnableSave enables interrupts on the calling CPU and returns a
	// token capturing the prior state.
	IRQEnableSave() IRQFlags
	// IRQRestore restores the interrupt-enable state captured by flags.
	IRQRestore(flags IRQFlags)
	// MachineHalt stops the calling CPU permanently. Never returns.
	MachineHalt()
}
