package sched

import "sync/atomic"

// Metrics is a set of lock-free counters tracking run-loop behavior: no
// percentile estimator, since there is no latency distribution to sample
// here, only monotone counts (DESIGN.md records why a percentile estimator
// was considered and dropped).
type Metrics struct {
	TimerReprograms  atomic.Uint64
	LockContentions  atomic.Uint64
	ThreadsStolen    atomic.Uint64
	ThreadsPushed    atomic.Uint64
	RunloopIterations atomic.Uint64
	TimersServiced   atomic.Uint64
	BHTasksDrained   atomic.Uint64
	RunQueueDrained  atomic.Uint64
	IdleEntries      atomic.Uint64
}

// NewMetrics returns a zeroed Metrics ready to be passed via WithMetrics,
// or left unused by InitScheduler's default config.
func NewMetrics() *Metrics { return &Metrics{} }

// Snapshot is a point-in-time copy of Metrics suitable for logging or
// exporting, since the live Metrics struct's atomics can't be copied
// while in use.
type Snapshot struct {
	TimerReprograms   uint64
	LockContentions   uint64
	ThreadsStolen     uint64
	ThreadsPushed     uint64
	RunloopIterations uint64
	TimersServiced    uint64
	BHTasksDrained    uint64
	RunQueueDrained   uint64
	IdleEntries       uint64
}

// Snapshot reads all counters into a plain value.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TimerReprograms:   m.TimerReprograms.Load(),
		LockContentions:   m.LockContentions.Load(),
		ThreadsStolen:     m.ThreadsStolen.Load(),
		ThreadsPushed:     m.ThreadsPushed.Load(),
		RunloopIterations: m.RunloopIterations.Load(),
		TimersServiced:    m.TimersServiced.Load(),
		BHTasksDrained:    m.BHTasksDrained.Load(),
		RunQueueDrained:   m.RunQueueDrained.Load(),
		IdleEntries:       m.IdleEntries.Load(),
	}
}
