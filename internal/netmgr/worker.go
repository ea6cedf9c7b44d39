package netmgr

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/netmgr/internal/netmgr/platform"
)

// dispatchStatus is the outcome of one call to [Worker.dispatch].
type dispatchStatus int

const (
	// dispatchIdle means every queue was empty; the loop should block on
	// the wake-up signal until more work arrives.
	dispatchIdle dispatchStatus = iota

	// dispatchProgress means at least one event ran and no control event
	// requested suspension; the loop should call dispatch again without
	// waiting, since more work may already be queued.
	dispatchProgress

	// dispatchSuspend means a pause or stop control event was processed;
	// the loop must stop draining queues and hand control to the
	// pause/shutdown machinery before dispatching again.
	dispatchSuspend
)

// Worker owns one event loop pinned to one goroutine (and, where the
// platform supports it, one OS thread), its four priority queues, and the
// sockets it is currently responsible for. All mutation of a [Socket]
// happens on its owning Worker's goroutine; this is the thread-affinity
// invariant the rest of the package is built around.
type Worker struct {
	id      int
	manager *Manager
	queues  *workerQueues
	logger  *slog.Logger

	paused   atomic.Bool
	finished atomic.Bool

	// sockets is only ever read or written from this worker's own
	// goroutine (including during the final drain on exit), so it needs
	// no lock despite being reachable, conceptually, from every socket
	// this worker owns.
	sockets map[uint64]*Socket

	recvBuf *[]byte
	sendBuf *[]byte

	doneCh chan struct{}
}

func newWorker(id int, m *Manager) (w *Worker) {
	w = &Worker{
		id:      id,
		manager: m,
		queues:  newWorkerQueues(),
		logger:  m.logger.With("worker_id", id),
		sockets: map[uint64]*Socket{},
		doneCh:  make(chan struct{}),
	}

	w.recvBuf = m.bufPool.Get()
	w.sendBuf = m.bufPool.Get()

	return w
}

// tid identifies this worker for the purposes of the "owning worker tid
// never changes" invariant. It is simply the worker's index, which is
// stable for the manager's lifetime; it plays the same role a real OS
// thread id would in a non-cooperatively-scheduled implementation.
func (w *Worker) tid() (id int) {
	return w.id
}

// post enqueues val on class and wakes the loop. Safe to call from any
// goroutine, including w's own.
func (w *Worker) post(class queueClass, val any) {
	w.queues.push(class, val)
}

// postFunc is a convenience wrapper around [postTask].
func (w *Worker) postFunc(class queueClass, fn func(ctx context.Context, w *Worker)) {
	postTask(w.queues, class, fn)
}

// workerTLSKey is the context key under which the worker currently driving
// a call is recorded. Go has no thread-local storage, and a worker's loop
// is pinned to one goroutine for its life, so callers that want the
// "run inline when already on the owning worker" optimization thread the
// current worker explicitly through context rather than relying on any
// goroutine-identity trick. A context with no such value is always treated
// as "not on the worker", which is the conservative, always-correct answer:
// it costs an extra post+wake but never races.
type workerTLSKey struct{}

// withCurrentWorker returns a context recording that w is driving the
// calling goroutine. The worker's dispatch loop wraps every synchronously
// invoked callback in one of these before calling it.
func withCurrentWorker(ctx context.Context, w *Worker) (c context.Context) {
	return context.WithValue(ctx, workerTLSKey{}, w)
}

// onWorker reports whether ctx was produced by [withCurrentWorker] for w,
// i.e. whether the caller is already running on w's event-loop goroutine.
func onWorker(ctx context.Context, w *Worker) (b bool) {
	cur, _ := ctx.Value(workerTLSKey{}).(*Worker)

	return cur == w
}

// run is the worker's event loop driver. It must be started in its own
// goroutine and runs until the worker is stopped.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := platform.PinThreadToCPU(w.id); err != nil {
		w.logger.Debug("pinning worker thread", slogutil.KeyError, err)
	}

	defer close(w.doneCh)

	for {
		switch w.dispatch() {
		case dispatchSuspend:
			w.handlePause()
		case dispatchIdle:
			if w.finished.Load() && len(w.sockets) == 0 {
				w.drainOnExit()
				return
			}

			<-w.queues.wake
		case dispatchProgress:
			// Immediately dispatch again: more work may already be
			// queued, and re-checking the wake channel first would
			// just cost a scheduling round trip.
		}
	}
}

// dispatch drains the four queues in strict priority order, consuming at
// most the depth each queue reported at entry — its "quota" — so that a
// hot queue being fed faster than it drains cannot starve this call
// forever.
func (w *Worker) dispatch() (status dispatchStatus) {
	progressed := false

	priorityQuota := w.queues.priority.len()
	for range priorityQuota {
		val, ok := w.queues.priority.pop()
		if !ok {
			break
		}

		progressed = true
		if w.runControlOrTask(classPriority, val) {
			return dispatchSuspend
		}
	}

	privilegedQuota := w.queues.privileged.len()
	for range privilegedQuota {
		val, ok := w.queues.privileged.pop()
		if !ok {
			break
		}

		progressed = true
		w.runControlOrTask(classPrivileged, val)
	}

	taskQuota := w.queues.task.len()
	for range taskQuota {
		val, ok := w.queues.task.pop()
		if !ok {
			break
		}

		progressed = true
		w.runControlOrTask(classTask, val)
	}

	normalQuota := w.queues.normal.len()
	for range normalQuota {
		val, ok := w.queues.normal.pop()
		if !ok {
			break
		}

		progressed = true
		w.runControlOrTask(classNormal, val)
	}

	if progressed {
		return dispatchProgress
	}

	return dispatchIdle
}

// runControlOrTask executes one dequeued item and reports whether it was a
// control event that requires the loop to suspend (pause or stop).
func (w *Worker) runControlOrTask(class queueClass, val any) (suspend bool) {
	switch v := val.(type) {
	case pauseEvent:
		w.paused.Store(true)

		return true
	case resumeEvent:
		w.paused.Store(false)

		return false
	case stopEvent:
		w.finished.Store(true)

		return true
	case shutdownEvent:
		w.shutdownSockets()

		return false
	case taskEvent:
		w.runTask(v)

		return false
	default:
		panic("netmgr: unrecognized event on worker queue")
	}
}

func (w *Worker) runTask(t taskEvent) {
	ctx := withCurrentWorker(context.Background(), w)
	defer slogutil.RecoverAndLog(ctx, w.logger)

	t.run(ctx, w)
}

// handlePause implements the manager-wide pause protocol from the worker's
// side: report paused, rendezvous at the pausing barrier, service only the
// priority queue until resumed, drain the privileged queue once, then
// rendezvous at the resuming barrier.
func (w *Worker) handlePause() {
	w.manager.enterPaused()
	w.manager.pausingBarrier.wait()

	for w.paused.Load() {
		val := w.queues.priority.popWait()
		w.runControlOrTask(classPriority, val)
	}

	for {
		val, ok := w.queues.privileged.pop()
		if !ok {
			break
		}

		w.runControlOrTask(classPrivileged, val)
	}

	w.manager.exitPaused()
	w.manager.resumingBarrier.wait()
}

// shutdownSockets asks every socket this worker owns to begin its
// per-variant shutdown.
func (w *Worker) shutdownSockets() {
	for _, s := range w.sockets {
		s.shutdown()
	}
}

// drainOnExit runs the PRIVILEGED and TASK queues to completion one last
// time so that shutdown-registered work still gets delivered, then reports
// this worker as exited.
func (w *Worker) drainOnExit() {
	for {
		val, ok := w.queues.privileged.pop()
		if !ok {
			break
		}

		w.runControlOrTask(classPrivileged, val)
	}

	for {
		val, ok := w.queues.task.pop()
		if !ok {
			break
		}

		w.runControlOrTask(classTask, val)
	}

	w.manager.workerExited()
}

// addSocket registers s as owned by this worker. Must only be called from
// this worker's own goroutine.
func (w *Worker) addSocket(s *Socket) {
	w.sockets[s.id] = s
}

// removeSocket unregisters s. Must only be called from this worker's own
// goroutine.
func (w *Worker) removeSocket(s *Socket) {
	delete(w.sockets, s.id)
}
