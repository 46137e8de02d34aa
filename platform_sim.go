package sched

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// PlatformSim is a pure-Go Platform: every CPU is one goroutine, IPI
// delivery is a buffered channel per CPU, and the hardware one-shot timer
// is a time.Timer per CPU. It exists so the scheduler core — and its
// tests — never depend on real hardware or a particular OS.
//
// CurrentCPU is resolved via the calling goroutine's runtime-assigned id,
// bound once in Run when each CPU's goroutine starts. This is the one
// place in the module that reaches past the language's structured
// concurrency primitives: Platform.CurrentCPU() takes no arguments by
// design — current_cpu() is ambient, callable from any task without a
// handle threaded through it — and a goroutine-keyed lookup is the only
// way to honor that contract for code running arbitrarily deep inside a
// resumed user Task.
type PlatformSim struct {
	n int

	nextVector atomic.Int32

	mu       sync.Mutex
	handlers map[IPIVector]func()

	events []chan IPIVector
	timers []*time.Timer
	halted []atomic.Bool

	current sync.Map // goroutine id (uint64) -> *CPU
}

// NewPlatformSim constructs a simulated n-CPU machine. Pair it with
// InitScheduler(sim, n, ...) and then Run to start every CPU's loop.
func NewPlatformSim(n int) *PlatformSim {
	p := &PlatformSim{
		n:        n,
		handlers: make(map[IPIVector]func()),
		events:   make([]chan IPIVector, n),
		timers:   make([]*time.Timer, n),
		halted:   make([]atomic.Bool, n),
	}
	for i := 0; i < n; i++ {
		p.events[i] = make(chan IPIVector, 4)
		t := time.NewTimer(time.Hour)
		t.Stop()
		p.timers[i] = t
	}
	return p
}

// Run starts one goroutine per CPU, each bound to its CPU identity before
// entering s.RunLoop. It returns immediately; call Wait on the returned
// group (or just block on it directly) to join every CPU's loop exit.
func (p *PlatformSim) Run(s *Scheduler) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < p.n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.bind(id, s.CPU(id))
			s.RunLoop(id)
		}(i)
	}
	return &wg
}

// Halted reports whether cpu has called MachineHalt.
func (p *PlatformSim) Halted(cpu int) bool { return p.halted[cpu].Load() }

func (p *PlatformSim) bind(id int, c *CPU) { p.current.Store(goroutineID(), c) }

// CurrentCPU implements Platform.
func (p *PlatformSim) CurrentCPU() *CPU {
	v, ok := p.current.Load(goroutineID())
	if !ok {
		halt("platform sim: CurrentCPU called from an unbound goroutine")
	}
	return v.(*CPU)
}

// Now implements Platform. The simulation does not distinguish monotonic,
// monotonic-raw, and realtime clocks — all three read the same wall clock,
// which is sufficient for deadline ordering in tests.
func (p *PlatformSim) Now(ClockID) time.Time { return time.Now() }

// AllocateIPIInterrupt implements Platform.
func (p *PlatformSim) AllocateIPIInterrupt() IPIVector {
	return IPIVector(p.nextVector.Add(1))
}

// RegisterInterrupt implements Platform. One handler per vector, shared
// across CPUs — see the Platform.RegisterInterrupt doc comment.
func (p *PlatformSim) RegisterInterrupt(vector IPIVector, handler func(), label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[vector] = handler
	logf(LevelDebug, "platform-sim", -1, "registered vector %d (%s)", vector, label)
}

// SendIPI implements Platform. A full event channel means cpu already has
// a pending wakeup it hasn't observed yet; dropping the duplicate is safe
// because the scheduler's idle-mask test-and-clear (wakeupCPU) already
// deduplicates redundant wakeups the same way schedule.c's bitmap does.
func (p *PlatformSim) SendIPI(cpu int, vector IPIVector) {
	if cpu < 0 || cpu >= p.n {
		halt("platform sim: send ipi to invalid cpu %d", cpu)
	}
	select {
	case p.events[cpu] <- vector:
	default:
	}
}

// RunloopTimer implements Platform, arming the calling CPU's timer.
func (p *PlatformSim) RunloopTimer(timeout time.Duration) {
	c := p.CurrentCPU()
	t := p.timers[c.ID]
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(timeout)
}

// WaitForInterrupt implements Platform: block until either an IPI arrives
// or the armed timer fires, dispatching the IPI's handler inline the way
// a real ISR would run before returning control to the run loop.
func (p *PlatformSim) WaitForInterrupt() {
	c := p.CurrentCPU()
	select {
	case v := <-p.events[c.ID]:
		p.dispatch(v)
	case <-p.timers[c.ID].C:
	}
}

func (p *PlatformSim) dispatch(v IPIVector) {
	p.mu.Lock()
	h := p.handlers[v]
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

// IRQEnableSave and IRQRestore implement Platform as no-ops: the
// simulation has no real interrupt mask to manipulate, goroutines are
// always preemptible by the Go runtime. The opaque IRQFlags value is
// still threaded through so kernelLock.lock's call pattern matches the
// real platform_linux.go backend exactly.
func (p *PlatformSim) IRQEnableSave() IRQFlags  { return 0 }
func (p *PlatformSim) IRQRestore(_ IRQFlags) {}

// MachineHalt implements Platform by marking the calling CPU halted and
// exiting its goroutine; it never returns, matching the interface
// contract.
func (p *PlatformSim) MachineHalt() {
	c := p.CurrentCPU()
	p.halted[c.ID].Store(true)
	logf(LevelInfo, "platform-sim", c.ID, "machine halt")
	runtime.Goexit()
}

// goroutineID extracts the runtime-assigned id from the calling
// goroutine's stack trace header ("goroutine 123 [running]:..."). It is
// used only to key PlatformSim.current; nothing about the numeric value
// itself is meaningful or stable across Go versions.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
