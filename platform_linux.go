//go:build linux

package sched

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// PlatformLinux is the hosted backend: each CPU is an OS thread locked to
// its own epoll instance, IPI vectors are eventfds (one per CPU per
// vector, matching one physical interrupt line per target), and the
// hardware one-shot timer is a timerfd armed with CLOCK_MONOTONIC. This is
// the closest hosted analogue of the bare-metal IPI-plus-hlt the scheduler
// core is specified against.
type PlatformLinux struct {
	n int

	nextVector atomic.Int32

	mu           sync.Mutex
	handlers     map[IPIVector]func()
	cpuVectorFD  []map[IPIVector]int
	fdToVector   []map[int]IPIVector

	epollFD []int
	timerFD []int
	halted  []atomic.Bool

	current sync.Map // goroutine id -> *CPU
}

// NewPlatformLinux constructs a hosted n-CPU machine. Each CPU's goroutine
// must call runtime.LockOSThread (done in Run) since epoll instances and
// timerfds are thread-affine-in-spirit resources here, even though Linux
// itself does not require it.
func NewPlatformLinux(n int) (*PlatformLinux, error) {
	p := &PlatformLinux{
		n:           n,
		handlers:    make(map[IPIVector]func()),
		cpuVectorFD: make([]map[IPIVector]int, n),
		fdToVector:  make([]map[int]IPIVector, n),
		epollFD:     make([]int, n),
		timerFD:     make([]int, n),
		halted:      make([]atomic.Bool, n),
	}
	for i := 0; i < n; i++ {
		p.cpuVectorFD[i] = make(map[IPIVector]int)
		p.fdToVector[i] = make(map[int]IPIVector)

		epfd, err := unix.EpollCreate1(0)
		if err != nil {
			return nil, &FatalInvariant{Message: "epoll_create1 failed", Cause: err}
		}
		p.epollFD[i] = epfd

		tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
		if err != nil {
			return nil, &FatalInvariant{Message: "timerfd_create failed", Cause: err}
		}
		p.timerFD[i] = tfd
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, tfd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(tfd)}); err != nil {
			return nil, &FatalInvariant{Message: "epoll_ctl(timerfd) failed", Cause: err}
		}
	}
	return p, nil
}

// Run locks each CPU's goroutine to an OS thread and starts s.RunLoop.
func (p *PlatformLinux) Run(s *Scheduler) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < p.n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			p.bind(id, s.CPU(id))
			s.RunLoop(id)
		}(i)
	}
	return &wg
}

func (p *PlatformLinux) bind(id int, c *CPU) { p.current.Store(goroutineID(), c) }

// CurrentCPU implements Platform.
func (p *PlatformLinux) CurrentCPU() *CPU {
	v, ok := p.current.Load(goroutineID())
	if !ok {
		halt("platform linux: CurrentCPU called from an unbound goroutine")
	}
	return v.(*CPU)
}

// Now implements Platform.
func (p *PlatformLinux) Now(id ClockID) time.Time {
	switch id {
	case ClockRealtime:
		return time.Now()
	default:
		// Go's time.Now already reads a monotonic reading internally; for
		// this simulation's purposes wall-clock ordering is sufficient.
		return time.Now()
	}
}

// AllocateIPIInterrupt implements Platform: reserves a vector number and
// eagerly creates one eventfd per CPU for it, each registered into that
// CPU's epoll instance.
func (p *PlatformLinux) AllocateIPIInterrupt() IPIVector {
	v := IPIVector(p.nextVector.Add(1))
	for cpu := 0; cpu < p.n; cpu++ {
		fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
		if err != nil {
			halt("platform linux: eventfd failed for cpu %d vector %d: %v", cpu, v, err)
		}
		if err := unix.EpollCtl(p.epollFD[cpu], unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
			halt("platform linux: epoll_ctl(eventfd) failed for cpu %d vector %d: %v", cpu, v, err)
		}
		p.cpuVectorFD[cpu][v] = fd
		p.fdToVector[cpu][fd] = v
	}
	return v
}

// RegisterInterrupt implements Platform. One handler per vector, shared
// across CPUs; see Platform.RegisterInterrupt's doc comment.
func (p *PlatformLinux) RegisterInterrupt(vector IPIVector, handler func(), label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[vector] = handler
	logf(LevelDebug, "platform-linux", -1, "registered vector %d (%s)", vector, label)
}

// SendIPI implements Platform by writing to the target CPU's eventfd for
// vector, which wakes it out of epoll_wait.
func (p *PlatformLinux) SendIPI(cpu int, vector IPIVector) {
	fd, ok := p.cpuVectorFD[cpu][vector]
	if !ok {
		halt("platform linux: send ipi: cpu %d has no fd for vector %d", cpu, vector)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(fd, buf[:]); err != nil && err != unix.EAGAIN {
		logf(LevelWarn, "platform-linux", cpu, "eventfd write failed: %v", err)
	}
}

// RunloopTimer implements Platform by arming the calling CPU's timerfd.
func (p *PlatformLinux) RunloopTimer(timeout time.Duration) {
	c := p.CurrentCPU()
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(timeout.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(p.timerFD[c.ID], 0, &spec, nil); err != nil {
		halt("platform linux: timerfd_settime failed for cpu %d: %v", c.ID, err)
	}
}

// WaitForInterrupt implements Platform via a blocking epoll_wait on the
// calling CPU's epoll instance, dispatching whichever IPI vector (or
// neither, for the bare timer) becomes readable.
func (p *PlatformLinux) WaitForInterrupt() {
	c := p.CurrentCPU()
	events := make([]unix.EpollEvent, 4)
	n, err := unix.EpollWait(p.epollFD[c.ID], events, -1)
	if err != nil {
		if err == unix.EINTR {
			return
		}
		halt("platform linux: epoll_wait failed for cpu %d: %v", c.ID, err)
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		var buf [8]byte
		_, _ = unix.Read(fd, buf[:])
		if fd == p.timerFD[c.ID] {
			continue
		}
		if v, ok := p.fdToVector[c.ID][fd]; ok {
			p.dispatch(v)
		}
	}
}

func (p *PlatformLinux) dispatch(v IPIVector) {
	p.mu.Lock()
	h := p.handlers[v]
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

// IRQEnableSave and IRQRestore implement Platform as no-ops: a hosted
// Linux process has no userspace-accessible interrupt mask analogous to
// cli/sti, so the kernel lock's spin-with-interrupts-enabled requirement
// degrades to an ordinary busy spin here.
func (p *PlatformLinux) IRQEnableSave() IRQFlags { return 0 }
func (p *PlatformLinux) IRQRestore(_ IRQFlags)   {}

// MachineHalt implements Platform: marks the CPU halted and exits its
// goroutine. It does not call os.Exit, since a single hosted process
// simulates a whole machine and other CPU goroutines may still be
// unwinding their own shutdown IPI.
func (p *PlatformLinux) MachineHalt() {
	c := p.CurrentCPU()
	p.halted[c.ID].Store(true)
	logf(LevelInfo, "platform-linux", c.ID, "machine halt")
	runtime.Goexit()
}

// Halted reports whether cpu has called MachineHalt.
func (p *PlatformLinux) Halted(cpu int) bool { return p.halted[cpu].Load() }
