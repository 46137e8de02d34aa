package sched

// Task is an opaque, heap-allocated one-shot callable — schedule.c's
// "thunk". Enqueueing transfers ownership into the queue; dequeuing
// transfers ownership to the executor; executing consumes it. A Task may
// re-enqueue itself or another Task as a continuation, but nothing else
// should hold a reference to it once it has been handed to Enqueue.
type Task func()

// runTask executes t, matching schedule.c's run_thunk: no panic recovery is
// injected here, because an OS kernel's diagnostic model is to halt with a
// stack trace, not to swallow the failure and keep scheduling. Callers that
// want isolation (e.g. BH completions driven by third-party drivers) can
// wrap the Task they enqueue.
func runTask(t Task) {
	if t == nil {
		return
	}
	t()
}
