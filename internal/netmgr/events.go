package netmgr

import "context"

// Control events. These are the only values ever pushed onto classPriority;
// a worker's dispatch loop switches on their concrete type to decide whether
// to keep draining queues or suspend the loop.
type (
	// pauseEvent asks the receiving worker to enter its paused state.
	pauseEvent struct{}

	// resumeEvent clears a worker's paused state.
	resumeEvent struct{}

	// stopEvent marks the worker finished: its loop exits once no sockets
	// remain active.
	stopEvent struct{}

	// shutdownEvent asks the worker to walk its live sockets and issue a
	// per-variant shutdown on each one.
	shutdownEvent struct{}
)

// taskEvent wraps an arbitrary closure posted to the PRIVILEGED, TASK, or
// NORMAL queue. Nearly everything that isn't a control event — socket I/O
// completions, handle detaches, accepts, cancels — is expressed as a
// taskEvent rather than its own type, the same way the teacher's worker
// pool takes a bare func() rather than a menagerie of job types.
type taskEvent struct {
	fn func(ctx context.Context, w *Worker)
}

func (t taskEvent) run(ctx context.Context, w *Worker) {
	t.fn(ctx, w)
}

// postTask is a convenience wrapper that wraps fn in a [taskEvent] and
// pushes it onto class.
func postTask(wq *workerQueues, class queueClass, fn func(ctx context.Context, w *Worker)) {
	wq.push(class, taskEvent{fn: fn})
}
