package netmgr

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Variant identifies the concrete role a [Socket] plays. Every per-variant
// operation in this package dispatches on it.
type Variant int

// Socket variants.
const (
	VariantUDPListener Variant = iota
	VariantUDPSocket
	VariantTCPListener
	VariantTCPSocket
	VariantTCPDNSListener
	VariantTCPDNSSocket
	VariantTLSListener
	VariantTLSSocket
	VariantTLSDNSListener
	VariantTLSDNSSocket
	VariantHTTPListener
	VariantHTTPSocket
)

// String implements the [fmt.Stringer] interface for Variant.
func (v Variant) String() (s string) {
	switch v {
	case VariantUDPListener:
		return "udp-listener"
	case VariantUDPSocket:
		return "udp-socket"
	case VariantTCPListener:
		return "tcp-listener"
	case VariantTCPSocket:
		return "tcp-socket"
	case VariantTCPDNSListener:
		return "tcp-dns-listener"
	case VariantTCPDNSSocket:
		return "tcp-dns-socket"
	case VariantTLSListener:
		return "tls-listener"
	case VariantTLSSocket:
		return "tls-socket"
	case VariantTLSDNSListener:
		return "tls-dns-listener"
	case VariantTLSDNSSocket:
		return "tls-dns-socket"
	case VariantHTTPListener:
		return "http-listener"
	case VariantHTTPSocket:
		return "http-socket"
	default:
		return "unknown"
	}
}

// isListener reports whether v is one of the listener variants.
func (v Variant) isListener() (b bool) {
	switch v {
	case VariantUDPListener, VariantTCPListener, VariantTCPDNSListener,
		VariantTLSListener, VariantTLSDNSListener, VariantHTTPListener:
		return true
	default:
		return false
	}
}

// isStream reports whether v is a connection-oriented (as opposed to
// datagram) variant.
func (v Variant) isStream() (b bool) {
	return v != VariantUDPListener && v != VariantUDPSocket
}

// isTLS reports whether v carries a TLS-DNS engine.
func (v Variant) isTLS() (b bool) {
	switch v {
	case VariantTLSListener, VariantTLSSocket, VariantTLSDNSListener, VariantTLSDNSSocket:
		return true
	default:
		return false
	}
}

// recvCallback is invoked once per inbound message/read completion.
type recvCallback func(ctx context.Context, h *Handle, result error, region []byte)

// connectCallback is invoked once a connect attempt (outbound) resolves.
type connectCallback func(ctx context.Context, h *Handle, result error)

// acceptCallback is invoked once per accepted inbound connection.
type acceptCallback func(ctx context.Context, h *Handle, result error)

// sendCallback is invoked once an outbound send completes.
type sendCallback func(ctx context.Context, result error)

// Socket is the polymorphic I/O endpoint every [Handle] and [Request]
// ultimately belongs to. All fields below the refCount/flags line are
// mutated only on the goroutine of the worker that owns the socket — the
// central invariant the rest of this package relies on — except where noted.
type Socket struct {
	id      uint64
	variant Variant
	worker  *Worker
	manager *Manager

	// refCount is the union of external attach/detach calls and one
	// reference per outstanding request or handle. Cross-thread, so
	// atomic.
	refCount atomic.Int32

	// tid is fixed at construction and never changes; see the owning-tid
	// invariant.
	tid int

	conn       net.Conn
	packetConn net.PacketConn
	listener   net.Listener

	active      bool
	destroying  bool
	closed      bool
	closing     bool
	connecting  bool
	connected   bool
	listening   bool
	reading     bool
	accepting   bool
	sequential  bool
	client      bool
	keepalive   bool

	// cleanedUp is set once [Socket.maybeCleanup] has run its teardown, so
	// that teardown happens at most once.
	cleanedUp bool

	// pauseMu/pauseCond/readPaused form the cross-goroutine read-pause
	// gate for the plain (non-TLS) stream read loop, which — unlike most
	// socket state — runs on its own dedicated per-connection goroutine
	// rather than the owning worker's, so it needs real synchronization
	// instead of the "only the owning worker touches this" convention the
	// rest of Socket's fields rely on.
	pauseMu    sync.Mutex
	pauseCond  *sync.Cond
	readPaused bool

	parent   *Socket
	children []*Socket

	quota *Quota

	// quotaRelease is the [Quota] this socket was admitted through, set
	// only on the per-connection socket returned from a listener's accept
	// path. It is released exactly once, in [Socket.maybeCleanup], giving
	// back the admitted slot (and running the oldest deferred accept, if
	// any) once the connection is fully torn down.
	quotaRelease *Quota

	connectTimeoutMS atomic.Int64
	readTimeoutMS    atomic.Int64

	timerMu sync.Mutex
	timer   *time.Timer
	timerID uint64

	onRecv    recvCallback
	onConnect connectCallback
	onAccept  acceptCallback

	activeHandles *handleTable

	inactiveMu       sync.Mutex
	inactiveHandles  []*Handle
	inactiveRequests []*Request
	maxInactive      int

	staticHandle atomic.Pointer[Handle]

	tls *tlsSubstate

	userBuf []byte

	startListenBarrier *barrier
	stopListenBarrier  *barrier

	// closeHandleCB is invoked (inline if on-worker, else posted NORMAL)
	// whenever an active handle on this socket is fully released. The
	// TLS-DNS read loop uses it to resume after a backpressure pause.
	closeHandleCB func(ctx context.Context, s *Socket)
}

const defaultMaxInactive = 64

func newSocket(m *Manager, w *Worker, variant Variant) (s *Socket) {
	s = &Socket{
		id:            m.nextID(),
		variant:       variant,
		worker:        w,
		manager:       m,
		tid:           w.tid(),
		active:        true,
		activeHandles: newHandleTable(),
		maxInactive:   defaultMaxInactive,
	}
	s.refCount.Store(1)
	s.pauseCond = sync.NewCond(&s.pauseMu)

	return s
}

// Addr returns the address a listener socket is bound to, taken from its
// first child. It is not meaningful for non-listener sockets.
func (s *Socket) Addr() (addr net.Addr) {
	if len(s.children) == 0 {
		return nil
	}

	child := s.children[0]
	if child.listener != nil {
		return child.listener.Addr()
	}
	if child.packetConn != nil {
		return child.packetConn.LocalAddr()
	}

	return nil
}

// attach increments the socket's reference count. Safe from any goroutine.
func (s *Socket) attach() {
	s.refCount.Add(1)
}

// pauseReading marks the socket's stream read loop paused. Safe from any
// goroutine.
func (s *Socket) pauseReading() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	s.readPaused = true
}

// resumeReading reverses [Socket.pauseReading] and wakes any goroutine
// blocked in [Socket.waitWhileReadPaused].
func (s *Socket) resumeReading() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	s.readPaused = false
	s.pauseCond.Broadcast()
}

// waitWhileReadPaused blocks the calling goroutine while the socket is
// read-paused.
func (s *Socket) waitWhileReadPaused() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	for s.readPaused {
		s.pauseCond.Wait()
	}
}

// detach decrements the socket's reference count and, if it reaches zero,
// begins destruction. Safe from any goroutine; the actual teardown work is
// always run on the owning worker.
func (s *Socket) detach(ctx context.Context) {
	if s.refCount.Add(-1) > 0 {
		return
	}

	if onWorker(ctx, s.worker) {
		s.prepDestroy()

		return
	}

	s.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
		s.prepDestroy()
	})
}

// prepDestroy marks the socket inactive and begins its variant-specific
// close. Must run on the owning worker.
func (s *Socket) prepDestroy() {
	if s.destroying {
		return
	}

	s.destroying = true
	s.active = false

	s.closeIO()
}

// closeIO closes the underlying OS handle(s). The close is asynchronous in
// spirit (it may involve in-flight writes draining) but in this Go
// implementation net.Conn.Close is synchronous, so cleanup follows
// immediately once every active handle has been released.
func (s *Socket) closeIO() {
	if s.closed {
		return
	}

	s.closed = true

	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.packetConn != nil {
		_ = s.packetConn.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.stopTimer()
	s.maybeCleanup()
}

// maybeCleanup performs nmsocket_cleanup once the socket has no active
// handles left and has finished closing.
func (s *Socket) maybeCleanup() {
	if !s.closed || s.cleanedUp || s.activeHandles.count() > 0 {
		return
	}

	s.cleanedUp = true

	s.inactiveMu.Lock()
	s.inactiveHandles = nil
	s.inactiveRequests = nil
	s.inactiveMu.Unlock()

	s.quota = nil

	if s.quotaRelease != nil {
		s.quotaRelease.Release()
		s.quotaRelease = nil
	}

	if s.variant.isListener() {
		s.startListenBarrier = nil
		s.stopListenBarrier = nil
	}

	s.worker.removeSocket(s)

	if s.manager.metrics != nil {
		s.manager.metrics.OnClose(s.variant, nil)
	}
}

// shutdown is the per-variant shutdown entry point invoked when the manager
// asks every worker to shut down its live sockets. For every variant this
// reduces to closing the underlying I/O, which unwinds through
// [Socket.closeIO] and [Socket.maybeCleanup] the same way a normal close
// would.
func (s *Socket) shutdown() {
	if s.closing {
		return
	}

	s.closing = true
	s.closeIO()
}

// armTimer (re)starts the socket's single logical timer per §4.4: connect
// timeout while connecting, read timeout otherwise. durMS == 0 disables it.
// Arming an already-armed timer restarts it; this is idempotent by
// construction since a fresh [time.Timer] always replaces any prior one.
func (s *Socket) armTimer(durMS int64, onFire func()) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if durMS <= 0 {
		return
	}

	s.timerID++
	id := s.timerID

	s.timer = time.AfterFunc(time.Duration(durMS)*time.Millisecond, func() {
		s.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
			s.timerMu.Lock()
			current := s.timerID
			s.timerMu.Unlock()

			if current != id {
				// Superseded by a later arm/disarm; ignore this fire.
				return
			}

			if s.manager.metrics != nil {
				s.manager.metrics.OnTimeout(s.variant)
			}

			onFire()
		})
	})
}

// stopTimer disarms the socket's timer. A no-op if it was already disarmed.
func (s *Socket) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	s.timerID++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// connectTimerDuration computes the connect-timeout arm duration per §4.4:
// the configured timeout plus 10ms slack so the TCP-level timeout observes
// first.
func (s *Socket) connectTimerDuration() (ms int64) {
	t := s.connectTimeoutMS.Load()
	if t <= 0 {
		return 0
	}

	return t + 10
}

// maybeResumeReading reverses a backpressure pause once the socket's active
// handle count has dropped back below [activeHandleCeiling]. It is the
// resume half of the pause decision in streamReadLoop and
// [tlsHandler.OnMessage], wired as every stream socket's closeHandleCB so it
// fires whenever any in-flight message handle on the socket is released —
// not just on full connection detach.
func (s *Socket) maybeResumeReading() {
	if s.activeHandles.count() >= activeHandleCeiling {
		return
	}

	if s.tls != nil && s.tls.engine != nil {
		s.tls.engine.Resume()

		return
	}

	s.resumeReading()
}

// onHandleReleased is called by [Handle.release] once a handle's reference
// count reaches zero and it has been removed from the active table. It
// invokes the socket's closeHandleCB, if any, inline when already on the
// owning worker and posted otherwise.
func (s *Socket) onHandleReleased(ctx context.Context) {
	s.maybeCleanup()

	if s.closeHandleCB == nil {
		return
	}

	if onWorker(ctx, s.worker) {
		s.closeHandleCB(ctx, s)

		return
	}

	s.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
		s.closeHandleCB(ctx, s)
	})
}
