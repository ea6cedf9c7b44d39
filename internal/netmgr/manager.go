// Package netmgr is the I/O substrate for a DNS server: a pool of
// single-threaded event-loop workers, a thread-affine socket/handle/request
// ownership model, and a TLS-DNS engine layered on top of them. It
// deliberately knows nothing about DNS message semantics — callers hand it
// opaque, length-prefixed byte payloads — and nothing about statistics or
// configuration loading, which are modeled as external collaborators (see
// [MetricsListener]).
package netmgr

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/AdguardTeam/netmgr/internal/netmgr/bufpool"
	"github.com/AdguardTeam/netmgr/internal/netmgr/taskpool"
)

// ErrClosing is returned by operations attempted after [Manager.Shutdown]
// has been called.
const ErrClosing errors.Error = "netmgr: manager is closing"

// ErrAlreadyPaused is returned by [Manager.Pause] when the manager is
// already paused.
const ErrAlreadyPaused errors.Error = "netmgr: manager already paused"

// Timeouts holds the manager-wide timeout settings, all in milliseconds. A
// zero value disables the corresponding timer.
type Timeouts struct {
	Init       int64
	Idle       int64
	Keepalive  int64
	Advertised int64
}

// BufferSizes holds the manager-wide socket buffer size settings, in bytes.
// Zero leaves the OS default in place.
type BufferSizes struct {
	TCPRecv int
	TCPSend int
	UDPRecv int
	UDPSend int
}

// Config configures a [New] call. The zero value is valid and selects
// conservative defaults.
type Config struct {
	// Workers is the number of event-loop workers to run. It defaults to 1
	// if less than 1.
	Workers int

	// Timeouts are the manager's initial timeout settings.
	Timeouts Timeouts

	// BufferSizes are the manager's initial socket buffer size settings.
	BufferSizes BufferSizes

	// MaxUDPSize sets the size of each worker's fixed receive and send
	// buffers. Values below [bufpool.MinBufferSize] are raised to it.
	MaxUDPSize int

	// Metrics receives lifecycle and error observations. If nil,
	// [EmptyMetricsListener] is used.
	Metrics MetricsListener

	// Logger is used for the manager's own diagnostic logging, as opposed
	// to per-connection logging a caller wires up itself. If nil,
	// [slog.Default] is used.
	Logger *slog.Logger
}

// Manager is the process-wide owner of a worker pool. Construct with [New];
// the returned Manager starts with one external reference, released by
// [Manager.Destroy].
type Manager struct {
	workers []*Worker

	timeoutsInit       atomic.Int64
	timeoutsIdle       atomic.Int64
	timeoutsKeepalive  atomic.Int64
	timeoutsAdvertised atomic.Int64

	bufSizesMu sync.RWMutex
	bufSizes   BufferSizes

	maxUDPSize int

	refCount atomic.Int32

	closing  atomic.Bool
	paused   atomic.Bool
	pausedN  atomic.Int32
	runningN atomic.Int32

	pausingBarrier *barrier
	resumingBarrier *barrier
	lock            *interlock

	stateMu   sync.Mutex
	stateCond *sync.Cond

	exitedCh chan struct{}

	bufPool  *bufpool.Bytes
	tasks    *taskpool.Pool
	metrics  MetricsListener
	logger   *slog.Logger

	nextSocketID atomic.Uint64
}

// New constructs a Manager and starts its worker pool. The returned Manager
// has one external reference; call [Manager.Destroy] to release it.
func New(cfg Config) (m *Manager) {
	n := cfg.Workers
	if n < 1 {
		n = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = EmptyMetricsListener{}
	}

	bufSize := cfg.MaxUDPSize
	if bufSize < bufpool.MinBufferSize {
		bufSize = bufpool.MinBufferSize
	}

	m = &Manager{
		bufSizes:        cfg.BufferSizes,
		maxUDPSize:      cfg.MaxUDPSize,
		pausingBarrier:  newBarrier(n),
		resumingBarrier: newBarrier(n),
		lock:            newInterlock(),
		exitedCh:        make(chan struct{}),
		bufPool:         bufpool.NewBytes(bufSize),
		logger:          logger,
		metrics:         metrics,
	}
	m.stateCond = sync.NewCond(&m.stateMu)
	m.tasks = taskpool.New(logger.With("component", "taskpool"))

	m.timeoutsInit.Store(cfg.Timeouts.Init)
	m.timeoutsIdle.Store(cfg.Timeouts.Idle)
	m.timeoutsKeepalive.Store(cfg.Timeouts.Keepalive)
	m.timeoutsAdvertised.Store(cfg.Timeouts.Advertised)

	m.refCount.Store(1)
	m.runningN.Store(int32(n))

	m.workers = make([]*Worker, n)
	for i := range n {
		w := newWorker(i, m)
		m.workers[i] = w

		go w.run()
	}

	return m
}

// worker0 returns the distinguished first worker, used by pause/resume as
// the interlock's counterpart.
func (m *Manager) worker0() (w *Worker) {
	return m.workers[0]
}

// Attach increments the manager's external reference count.
func (m *Manager) Attach() {
	m.refCount.Add(1)
}

// Detach decrements the manager's external reference count. It does not
// destroy the manager; call [Manager.Destroy] for that once every other
// reference has been released.
func (m *Manager) Detach() {
	m.refCount.Add(-1)
}

// SetTimeouts updates the manager's timeout settings. Changes apply to
// timers armed after the call; in-flight timers are unaffected.
func (m *Manager) SetTimeouts(t Timeouts) {
	m.timeoutsInit.Store(t.Init)
	m.timeoutsIdle.Store(t.Idle)
	m.timeoutsKeepalive.Store(t.Keepalive)
	m.timeoutsAdvertised.Store(t.Advertised)
}

// GetTimeouts returns the manager's current timeout settings.
func (m *Manager) GetTimeouts() (t Timeouts) {
	return Timeouts{
		Init:       m.timeoutsInit.Load(),
		Idle:       m.timeoutsIdle.Load(),
		Keepalive:  m.timeoutsKeepalive.Load(),
		Advertised: m.timeoutsAdvertised.Load(),
	}
}

// SetBufferSizes updates the manager's socket buffer size settings, applied
// to sockets created after the call.
func (m *Manager) SetBufferSizes(b BufferSizes) {
	m.bufSizesMu.Lock()
	defer m.bufSizesMu.Unlock()

	m.bufSizes = b
}

// GetBufferSizes returns the manager's current socket buffer size settings.
func (m *Manager) GetBufferSizes() (b BufferSizes) {
	m.bufSizesMu.RLock()
	defer m.bufSizesMu.RUnlock()

	return m.bufSizes
}

func (m *Manager) nextID() (id uint64) {
	return m.nextSocketID.Add(1)
}

// enterPaused and exitPaused are called by a worker transitioning into and
// out of its own paused wait; see [Worker.handlePause].
func (m *Manager) enterPaused() {
	m.pausedN.Add(1)
	m.notifyState()
}

func (m *Manager) exitPaused() {
	m.pausedN.Add(-1)
	m.notifyState()
}

func (m *Manager) notifyState() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	m.stateCond.Broadcast()
}

func (m *Manager) workerExited() {
	m.runningN.Add(-1)
	m.notifyState()
}

// Pause quiesces every worker: once Pause returns, no NORMAL or TASK event
// is executing or will execute on any worker until [Manager.Resume] is
// called. It returns [ErrAlreadyPaused] if the manager is already paused.
func (m *Manager) Pause(ctx context.Context) (err error) {
	if !m.paused.CompareAndSwap(false, true) {
		return ErrAlreadyPaused
	}

	w0 := m.worker0()
	m.lock.acquire(w0.tid())

	if onWorker(ctx, w0) {
		w0.paused.Store(true)
	} else {
		w0.post(classPriority, pauseEvent{})
	}

	for _, w := range m.workers[1:] {
		w.post(classPriority, pauseEvent{})
	}

	m.waitUntilPaused()

	return nil
}

// Resume reverses a prior [Manager.Pause].
func (m *Manager) Resume(ctx context.Context) {
	w0 := m.worker0()

	if onWorker(ctx, w0) {
		w0.paused.Store(false)
	} else {
		w0.post(classPriority, resumeEvent{})
	}

	for _, w := range m.workers[1:] {
		w.post(classPriority, resumeEvent{})
	}

	m.waitUntilResumed()

	m.paused.Store(false)
	m.lock.release(w0.tid())
}

func (m *Manager) waitUntilPaused() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	for int(m.pausedN.Load()) < len(m.workers) {
		m.stateCond.Wait()
	}
}

func (m *Manager) waitUntilResumed() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	for m.pausedN.Load() > 0 {
		m.stateCond.Wait()
	}
}

// Shutdown marks the manager closing and asks every worker to shut down its
// live sockets. It does not wait for workers to exit; call [Manager.Destroy]
// for that.
func (m *Manager) Shutdown() {
	m.closing.Store(true)

	for _, w := range m.workers {
		w.post(classPriority, shutdownEvent{})
	}
}

// Destroy releases the manager's construction reference, stops every
// worker, and blocks until all of them have exited. It is safe to call only
// once external callers have released their own references via
// [Manager.Detach].
func (m *Manager) Destroy(ctx context.Context) {
	m.refCount.Add(-1)

	m.Shutdown()

	for _, w := range m.workers {
		w.post(classPriority, stopEvent{})
	}

	m.waitUntilAllExited()

	m.tasks.Release()

	select {
	case <-ctx.Done():
	default:
	}
}

func (m *Manager) waitUntilAllExited() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	for m.runningN.Load() > 0 {
		m.stateCond.Wait()
	}
}

// submitTask hands fn to the manager's shared goroutine pool, for work a
// callback needs done off the worker's own event-loop goroutine. If the
// pool rejects it (for example after it has been released), fn runs
// synchronously instead so it is never silently dropped.
func (m *Manager) submitTask(fn func()) {
	if !m.tasks.Submit(fn) {
		fn()
	}
}

// now exists so timer arithmetic reads as manager-relative rather than
// sprinkling time.Now() through socket.go and request.go.
func (m *Manager) now() (t time.Time) {
	return time.Now()
}
