package netmgr

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/netmgr/internal/netmgr/tlsdns"
)

// ConnectConfig configures an outbound TCP-DNS or TLS-DNS connection.
type ConnectConfig struct {
	// Local is the address to dial from; may be empty to let the OS
	// choose.
	Local string

	// Peer is the address to dial.
	Peer string

	// TimeoutMS is the connect timeout, in milliseconds. Zero disables it.
	TimeoutMS int64

	// TLSConfig, if non-nil, makes this a TLS-DNS connection.
	TLSConfig *tls.Config

	// OnConnect is called once the connect attempt resolves.
	OnConnect connectCallback

	// OnMessage is called once per complete, de-framed DNS message
	// received on the connection.
	OnMessage recvCallback

	// ExtraHandleSize reserves that many bytes for caller-defined state on
	// the resulting handle.
	ExtraHandleSize int
}

// ConnectTCPDNS dials a length-prefix-framed DNS-over-TCP peer, running the
// connect on worker 0. The handle is delivered to cfg.OnConnect.
func ConnectTCPDNS(ctx context.Context, m *Manager, cfg ConnectConfig) {
	connectFramed(ctx, m, cfg, VariantTCPDNSSocket)
}

// ConnectTLSDNS is like [ConnectTCPDNS] but negotiates TLS before framing
// DNS messages over the decrypted stream.
func ConnectTLSDNS(ctx context.Context, m *Manager, cfg ConnectConfig) {
	connectFramed(ctx, m, cfg, VariantTLSDNSSocket)
}

func connectFramed(ctx context.Context, m *Manager, cfg ConnectConfig, variant Variant) {
	w := m.worker0()

	w.postFunc(classNormal, func(ctx context.Context, w *Worker) {
		dialAndAttach(ctx, m, w, cfg, variant)
	})
}

// dialAndAttach sets up the outbound socket and request on the owning
// worker, then hands the blocking dial itself to the manager's task pool:
// [net.Dialer.DialContext] must never run on a worker's own event-loop
// goroutine, since nothing may block that goroutine while it's also
// responsible for draining the worker's queues. The dial's result is
// posted back as a NORMAL event once it resolves.
func dialAndAttach(ctx context.Context, m *Manager, w *Worker, cfg ConnectConfig, variant Variant) {
	sock := newSocket(m, w, variant)
	sock.client = true
	sock.connecting = true
	sock.onConnect = cfg.OnConnect
	sock.onRecv = cfg.OnMessage
	sock.connectTimeoutMS.Store(cfg.TimeoutMS)
	w.addSocket(sock)

	req := newRequest(sock, requestConnect)

	dialer := &net.Dialer{}
	if cfg.Local != "" {
		if laddr, err := net.ResolveTCPAddr("tcp", cfg.Local); err == nil {
			dialer.LocalAddr = laddr
		}
	}
	if cfg.TimeoutMS > 0 {
		dialer.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	m.submitTask(func() {
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Peer)

		w.postFunc(classNormal, func(ctx context.Context, w *Worker) {
			finishDial(ctx, m, sock, req, cfg, variant, conn, err)
		})
	})
}

// finishDial runs on the owning worker once the off-loop dial started by
// [dialAndAttach] has resolved, either way releasing req.
func finishDial(
	ctx context.Context,
	m *Manager,
	sock *Socket,
	req *Request,
	cfg ConnectConfig,
	variant Variant,
	conn net.Conn,
	err error,
) {
	defer req.release(ctx)

	if err != nil {
		sock.connecting = false

		if cfg.OnConnect != nil {
			cfg.OnConnect(ctx, nil, err)
		}

		sock.detach(ctx)

		return
	}

	sock.conn = conn
	h := getHandle(sock, conn.RemoteAddr(), conn.LocalAddr(), cfg.ExtraHandleSize, true)
	req.bindHandle(h)

	if variant.isTLS() {
		armInitialTimeout(m, h)

		handler := &tlsHandler{
			manager:   m,
			socket:    sock,
			handle:    h,
			onConnect: cfg.OnConnect,
		}

		engine := tlsdns.New(conn, tlsdns.RoleClient, cfg.TLSConfig, handler, m.logger)
		sock.tls = &tlsSubstate{engine: engine}
		sock.closeHandleCB = func(ctx context.Context, s *Socket) {
			s.maybeResumeReading()
		}

		go func() {
			defer slogutil.RecoverAndLog(context.Background(), m.logger)

			engine.Run(context.Background())
		}()

		return
	}

	sock.connecting = false
	sock.connected = true
	armInitialTimeout(m, h)
	sock.closeHandleCB = func(ctx context.Context, s *Socket) {
		s.maybeResumeReading()
	}

	if cfg.OnConnect != nil {
		cfg.OnConnect(ctx, h, nil)
	}

	go streamReadLoop(m, sock, h)
}
