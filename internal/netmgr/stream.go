package netmgr

import (
	"context"
	"io"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/netmgr/internal/netmgr/tlsdns"
)

// streamReadLoop drives the plain (non-TLS) TCP-DNS read path: it runs on
// its own goroutine per connection — Go's idiomatic substitute for the
// manager's non-blocking per-worker event loop, since goroutines are cheap
// enough that one per connection needs no explicit state machine — reading
// raw bytes, reassembling length-prefixed DNS messages via
// [tlsdns.ProcessBuffer], and invoking sock's recv callback once per
// complete message.
func streamReadLoop(m *Manager, sock *Socket, h *Handle) {
	defer slogutil.RecoverAndLog(context.Background(), m.logger)

	var pending []byte
	buf := make([]byte, tlsdns.MaxMessageSize+2)

	for {
		sock.waitWhileReadPaused()

		if sock.closed {
			return
		}

		n, err := sock.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			for {
				msg, consumed, ok := tlsdns.ProcessBuffer(pending)
				if !ok {
					break
				}

				deliverMessage(context.Background(), m, sock, h, msg)
				pending = pending[consumed:]

				if sock.sequential || sock.client || sock.activeHandles.count() >= activeHandleCeiling {
					sock.pauseReading()

					break
				}
			}
		}

		if err != nil {
			ctx := context.Background()

			result := error(err)
			if err == io.EOF {
				result = nil
			}

			m.logger.Debug("stream closed", "conn_id", h.ConnID(), slogutil.KeyError, result)

			if sock.onRecv != nil {
				sock.onRecv(ctx, h, result, nil)
			}

			sock.detach(ctx)
			h.Detach(ctx)

			return
		}
	}
}

// deliverMessage routes one complete, de-framed message through a
// per-message [Request]/[Handle] pair, per §4.3: the handle is claimed
// fresh (rather than reusing h, the connection's static handle), so the
// active-handle ceiling actually reflects concurrently in-flight messages
// instead of always reading 1. A recv callback that needs to hold the
// message past its own return must call [Handle.Attach] before returning;
// otherwise the handle (and the active-handle slot it occupies) is released
// here, immediately.
func deliverMessage(ctx context.Context, m *Manager, sock *Socket, h *Handle, msg []byte) {
	armIdleTimeout(m, h)

	req := newRequest(sock, requestRead)
	msgHandle := getHandle(sock, h.Peer(), h.Local(), 0, false)
	req.bindHandle(msgHandle)

	if sock.onRecv != nil {
		sock.onRecv(ctx, msgHandle, nil, msg)
	}

	req.release(ctx)
	msgHandle.Detach(ctx)
}
