package sched

import "sync/atomic"

// kernelLock is the single global exclusion gating run-queue drains, timer
// mutation, and periodic maintenance (schedule.c's kernel_lock). Implemented
// as a plain CAS spin on an atomic.Bool rather than a dedicated spinlock
// type, matching the lock-free style used elsewhere in this package for a
// spin-until-CAS-succeeds primitive.
type kernelLock struct {
	held atomic.Bool
}

// lock spins until acquired. The caller's CPU must keep interrupts enabled
// while spinning (so it can still observe the IPIs it
// depends on to make progress) and must restore the interrupt-disabled
// state on return so that the lock-class critical section begins with
// interrupts disabled, exactly as kern_lock does. irqEnableSave/irqRestore
// are supplied by the Platform so this stays host-agnostic in tests.
func (k *kernelLock) lock(p Platform) {
	flags := p.IRQEnableSave()
	for !k.held.CompareAndSwap(false, true) {
		// Busy-spin: interrupts are enabled here, mirroring kern_lock's
		// comment that this avoids deadlocks against IPIs the holder needs
		// to observe to release the lock.
	}
	p.IRQRestore(flags)
}

// tryLock never blocks. It must not be called from StateInterrupt; it does
// not check this itself. The run loop's Phase 2 (tryKernelWork) checks the
// CPU's own state and halts before calling it, same as kern_try_lock's
// assert.
func (k *kernelLock) tryLock() bool {
	return k.held.CompareAndSwap(false, true)
}

func (k *kernelLock) unlock() {
	k.held.Store(false)
}
