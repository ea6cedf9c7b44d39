package netmgr

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/netmgr/internal/netmgr/platform"
	"github.com/AdguardTeam/netmgr/internal/netmgr/tlsdns"
)

// ListenConfig configures a TCP-DNS or TLS-DNS listener.
type ListenConfig struct {
	// Addr is the address to bind to, e.g. "127.0.0.1:0".
	Addr string

	// Options are the platform socket options applied to every child
	// listening socket.
	Options platform.Options

	// Quota, if non-nil, gates accepted connections through admission
	// control.
	Quota *Quota

	// TLSConfig, if non-nil, makes this a TLS-DNS listener instead of a
	// plain TCP-DNS one.
	TLSConfig *tls.Config

	// OnAccept is called once per accepted connection, with the fresh
	// [Handle] for it.
	OnAccept acceptCallback

	// OnMessage is called once per complete, de-framed DNS message
	// received on any connection accepted by this listener.
	OnMessage recvCallback

	// ExtraHandleSize reserves that many bytes per handle for
	// caller-defined state, retrievable via [Handle.Extra].
	ExtraHandleSize int
}

// ListenTCPDNS opens a length-prefix-framed DNS-over-TCP listener,
// fanned out across every worker in m, and returns the parent [Socket].
// Call [Socket.StopListening] to tear it down.
func ListenTCPDNS(ctx context.Context, m *Manager, cfg ListenConfig) (parent *Socket, err error) {
	return listenFramed(ctx, m, cfg, VariantTCPDNSListener, VariantTCPDNSSocket)
}

// ListenTLSDNS is like [ListenTCPDNS] but wraps every accepted connection in
// TLS using cfg.TLSConfig, framing DNS messages over the decrypted stream.
func ListenTLSDNS(ctx context.Context, m *Manager, cfg ListenConfig) (parent *Socket, err error) {
	return listenFramed(ctx, m, cfg, VariantTLSDNSListener, VariantTLSDNSSocket)
}

func listenFramed(
	ctx context.Context,
	m *Manager,
	cfg ListenConfig,
	listenerVariant, childVariant Variant,
) (parent *Socket, err error) {
	w0 := m.worker0()
	parent = newSocket(m, w0, listenerVariant)
	parent.listening = true
	parent.quota = cfg.Quota
	parent.startListenBarrier = newBarrier(len(m.workers) + 1)
	parent.stopListenBarrier = newBarrier(len(m.workers))

	listeners, err := fanOutListeners(ctx, m, cfg)
	if err != nil {
		return nil, err
	}

	for i, w := range m.workers {
		ln := listeners[i]

		child := newSocket(m, w, childVariant)
		child.parent = parent
		child.listener = ln
		child.listening = true
		child.quota = cfg.Quota
		child.onAccept = cfg.OnAccept
		child.onRecv = cfg.OnMessage

		parent.children = append(parent.children, child)

		w.postFunc(classNormal, func(ctx context.Context, w *Worker) {
			w.addSocket(child)
			parent.startListenBarrier.wait()
		})

		go acceptLoop(m, child, cfg)
	}

	parent.startListenBarrier.wait()

	return parent, nil
}

// fanOutListeners implements the manager's listener fan-out strategy: with
// load-balancing socket reuse available, every worker opens its own
// independent listening socket bound to the same address; otherwise worker
// 0 opens one and the rest get a dup()'d copy of its file descriptor, via
// [net.TCPListener.File] — Go's stdlib equivalent of the manager's raw
// dup() call.
func fanOutListeners(ctx context.Context, m *Manager, cfg ListenConfig) (listeners []net.Listener, err error) {
	n := len(m.workers)
	listeners = make([]net.Listener, n)

	if cfg.Options.ReusePortLB {
		for i := range n {
			lc := cfg.Options.ListenConfig()
			ln, lErr := lc.Listen(ctx, "tcp", cfg.Addr)
			if lErr != nil {
				return nil, lErr
			}

			listeners[i] = ln
		}

		return listeners, nil
	}

	lc := cfg.Options.ListenConfig()
	primary, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	listeners[0] = primary

	tcpPrimary, ok := primary.(*net.TCPListener)
	if !ok {
		if n > 1 {
			return nil, ErrNotImplemented
		}

		return listeners, nil
	}

	for i := 1; i < n; i++ {
		f, fErr := tcpPrimary.File()
		if fErr != nil {
			return nil, fErr
		}

		dup, dErr := net.FileListener(f)
		_ = f.Close()
		if dErr != nil {
			return nil, dErr
		}

		listeners[i] = dup
	}

	return listeners, nil
}

// acceptLoop runs on its own goroutine per child listener, accepting
// connections and handing them to the child's owning worker via the
// quota-gated accept path.
func acceptLoop(m *Manager, child *Socket, cfg ListenConfig) {
	for {
		conn, err := child.listener.Accept()
		if err != nil {
			return
		}

		child.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
			handleAccept(ctx, m, child, conn, cfg)
		})
	}
}

func handleAccept(ctx context.Context, m *Manager, child *Socket, conn net.Conn, cfg ListenConfig) {
	if child.quota != nil {
		switch child.quota.TryAdmit() {
		case QuotaHardExceeded:
			_ = conn.Close()

			if m.metrics != nil {
				m.metrics.OnQuotaReject(false)
			}

			return
		case QuotaSoftExceeded:
			if m.metrics != nil {
				m.metrics.OnQuotaReject(true)
			}

			child.quota.Defer(func() {
				child.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
					acceptConn(ctx, m, child, conn, cfg)
				})
			})

			return
		}
	}

	acceptConn(ctx, m, child, conn, cfg)
}

func acceptConn(ctx context.Context, m *Manager, child *Socket, conn net.Conn, cfg ListenConfig) {
	sock := newSocket(m, child.worker, child.variant)
	sock.conn = conn
	sock.connected = true
	sock.parent = child
	sock.onRecv = cfg.OnMessage
	sock.quotaRelease = child.quota
	sock.closeHandleCB = func(ctx context.Context, s *Socket) {
		s.maybeResumeReading()
	}

	child.worker.addSocket(sock)

	h := getHandle(sock, conn.RemoteAddr(), conn.LocalAddr(), cfg.ExtraHandleSize, true)
	armInitialTimeout(m, h)

	if m.metrics != nil {
		m.metrics.OnAccept(sock.variant)
	}

	m.logger.Debug("accepted connection", "conn_id", h.ConnID(), "variant", sock.variant, "peer", h.Peer())

	if sock.variant.isTLS() && cfg.TLSConfig != nil {
		acceptTLS(ctx, m, sock, h, conn, cfg)

		return
	}

	if cfg.OnAccept != nil {
		cfg.OnAccept(ctx, h, nil)
	}

	go streamReadLoop(m, sock, h)
}

func acceptTLS(ctx context.Context, m *Manager, sock *Socket, h *Handle, conn net.Conn, cfg ListenConfig) {
	sock.tls = newTLSSubstate()

	handler := &tlsHandler{
		manager: m,
		socket:  sock,
		handle:  h,
		onAccept: cfg.OnAccept,
	}

	engine := tlsdns.New(conn, tlsdns.RoleServer, cfg.TLSConfig, handler, m.logger)
	sock.tls.engine = engine
	sock.closeHandleCB = func(ctx context.Context, s *Socket) {
		s.maybeResumeReading()
	}

	go func() {
		defer slogutil.RecoverAndLog(context.Background(), m.logger)

		engine.Run(context.Background())
	}()
}

// StopListening quiesces parent and every one of its child sockets.
func (parent *Socket) StopListening(ctx context.Context) {
	for _, child := range parent.children {
		child.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
			child.closing = true
			child.closeIO()
			parent.stopListenBarrier.wait()
		})
	}
}
