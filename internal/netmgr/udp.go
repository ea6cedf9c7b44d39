package netmgr

import (
	"context"
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/netmgr/internal/netmgr/platform"
)

// UDPListenConfig configures a UDP listener.
type UDPListenConfig struct {
	Addr    string
	Options platform.Options

	// OnMessage is called once per datagram received.
	OnMessage recvCallback

	ExtraHandleSize int
}

// ListenUDP opens a UDP socket fanned out across every worker in m (one
// independent bound socket per worker when the platform supports
// load-balancing reuse, otherwise a single shared socket read from every
// worker's goroutine). Each worker serializes its own reads through its
// single fixed receive buffer — a deliberate simplification carried over
// from the manager's design: one active read per worker across every UDP
// socket it owns; see the design notes on recvbuf_inuse.
func ListenUDP(ctx context.Context, m *Manager, cfg UDPListenConfig) (parent *Socket, err error) {
	w0 := m.worker0()
	parent = newSocket(m, w0, VariantUDPListener)
	parent.listening = true

	n := len(m.workers)
	var conns []net.PacketConn

	if cfg.Options.ReusePortLB {
		conns = make([]net.PacketConn, n)
		for i := range n {
			lc := cfg.Options.ListenConfig()
			pc, lErr := lc.ListenPacket(ctx, "udp", cfg.Addr)
			if lErr != nil {
				return nil, lErr
			}

			conns[i] = pc
		}
	} else {
		lc := cfg.Options.ListenConfig()
		pc, lErr := lc.ListenPacket(ctx, "udp", cfg.Addr)
		if lErr != nil {
			return nil, lErr
		}

		conns = make([]net.PacketConn, n)
		for i := range n {
			conns[i] = pc
		}
	}

	for i, w := range m.workers {
		pc := conns[i]
		_, _ = platform.EnableOOB(pc)

		child := newSocket(m, w, VariantUDPSocket)
		child.parent = parent
		child.packetConn = pc
		child.listening = true
		child.onRecv = cfg.OnMessage

		parent.children = append(parent.children, child)

		w.postFunc(classNormal, func(ctx context.Context, w *Worker) {
			w.addSocket(child)
		})

		go udpReadLoop(m, child, cfg)
	}

	return parent, nil
}

func udpReadLoop(m *Manager, sock *Socket, cfg UDPListenConfig) {
	defer slogutil.RecoverAndLog(context.Background(), m.logger)

	buf := *sock.worker.recvBuf
	oob := make([]byte, 512)

	for {
		if sock.closed {
			return
		}

		n, oobn, _, peer, err := readFromUDP(sock.packetConn, buf, oob)
		if err != nil {
			return
		}

		local := platform.LocalAddrFromOOB(oob[:oobn], localPort(sock.packetConn), sock.packetConn.LocalAddr())

		h := getHandle(sock, peer, local, cfg.ExtraHandleSize, false)

		msg := make([]byte, n)
		copy(msg, buf[:n])

		if sock.onRecv != nil {
			sock.onRecv(context.Background(), h, nil, msg)
		}

		h.Detach(context.Background())
	}
}

func localPort(pc net.PacketConn) (port int) {
	if addr, ok := pc.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}

	return 0
}

// readFromUDP reads one datagram plus OOB control data, where the
// underlying PacketConn supports it (a ReadMsgUDP method, as on *net.UDPConn),
// falling back to a plain ReadFrom with no local-address recovery on
// PacketConn implementations that don't.
func readFromUDP(pc net.PacketConn, buf, oob []byte) (n, oobn, flags int, peer net.Addr, err error) {
	type oobReader interface {
		ReadMsgUDP(b, oob []byte) (n, oobn, flags int, addr *net.UDPAddr, err error)
	}

	if udpConn, ok := pc.(oobReader); ok {
		var addr *net.UDPAddr
		n, oobn, flags, addr, err = udpConn.ReadMsgUDP(buf, oob)

		return n, oobn, flags, addr, err
	}

	n, peer, err = pc.ReadFrom(buf)

	return n, 0, 0, peer, err
}

// SendUDP writes msg to h's peer on a UDP socket.
func (h *Handle) SendUDP(ctx context.Context, msg []byte, cb sendCallback) {
	s := h.socket

	run := func() {
		_, err := s.packetConn.WriteTo(msg, h.peer)

		if cb != nil {
			cb(ctx, err)
		}
	}

	if onWorker(ctx, s.worker) {
		run()

		return
	}

	s.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
		run()
	})
}
