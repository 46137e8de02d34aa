package sched

import "time"

// schedulerConfig collects the tunables SchedulerOption values mutate: a
// private config struct built up by functional options before the
// constructor does anything observable.
type schedulerConfig struct {
	queueCapacity  int
	timerMinPeriod time.Duration
	timerMaxPeriod time.Duration
	metrics        *Metrics
	pauseHook      func(cpu int)
}

func defaultConfig() schedulerConfig {
	return schedulerConfig{
		queueCapacity:  DefaultQueueCapacity,
		timerMinPeriod: DefaultTimerMinPeriod,
		timerMaxPeriod: DefaultTimerMaxPeriod,
		metrics:        NewMetrics(),
	}
}

// SchedulerOption configures InitScheduler.
type SchedulerOption func(*schedulerConfig)

// WithQueueCapacity overrides the bottom-half, run, and per-CPU thread
// queue capacity (default DefaultQueueCapacity). Rounded up to the next
// power of two by NewQueue.
func WithQueueCapacity(capacity int) SchedulerOption {
	return func(c *schedulerConfig) { c.queueCapacity = capacity }
}

// WithTimerBounds overrides the minimum and maximum timer reprogram period.
// min clamps how soon a reprogram is allowed to re-arm;
// max bounds how long the hardware timer is ever armed for, whether the
// next deadline is far off or the heap is empty, so a freshly-registered
// short timer is still noticed promptly.
func WithTimerBounds(min, max time.Duration) SchedulerOption {
	return func(c *schedulerConfig) {
		c.timerMinPeriod = min
		c.timerMaxPeriod = max
	}
}

// WithMetrics installs a caller-supplied Metrics sink in place of the
// default fresh one, letting multiple schedulers in a test share counters
// or a process export a single registered set.
func WithMetrics(m *Metrics) SchedulerOption {
	return func(c *schedulerConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithThreadPauseHook installs a callback invoked whenever a CPU pauses its
// current user thread. The thread-runtime side of this hook (persisting
// register state) is out of scope here; the hook exists so a host
// embedding this scheduler can wire one in.
func WithThreadPauseHook(fn func(cpu int)) SchedulerOption {
	return func(c *schedulerConfig) { c.pauseHook = fn }
}
