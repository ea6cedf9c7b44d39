package netmgr

import (
	"context"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/AdguardTeam/netmgr/internal/netmgr/tlsdns"
)

// activeHandleCeiling bounds how many undelivered messages a TCP-DNS or
// TLS-DNS connection may have outstanding before its read loop pauses, per the
// manager's backpressure design (§4.5).
const activeHandleCeiling = 23

// tlsSubstate is the per-socket record of its TLS-DNS engine. It exists
// mainly so [Socket] doesn't need to name the tlsdns package directly in
// its own field declarations, keeping socket.go free of that import.
type tlsSubstate struct {
	engine *tlsdns.Engine
}

func newTLSSubstate() (t *tlsSubstate) {
	return &tlsSubstate{}
}

// State returns the TLS-DNS engine's current lifecycle state.
func (t *tlsSubstate) State() (s tlsdns.State) {
	if t == nil || t.engine == nil {
		return tlsdns.StateNone
	}

	return t.engine.State()
}

// tlsHandler bridges a [tlsdns.Engine]'s callbacks back into a [Socket]'s
// accept/recv callbacks, applying the backpressure rule from §4.5: after
// delivering one message, the engine keeps reading only while the socket
// isn't "sequential", isn't a client, and its active-handle count is below
// [activeHandleCeiling].
type tlsHandler struct {
	manager *Manager
	socket  *Socket
	handle  *Handle

	onAccept   acceptCallback
	onConnect  connectCallback
}

// type check
var _ tlsdns.Handler = (*tlsHandler)(nil)

// OnReady implements the [tlsdns.Handler] interface for *tlsHandler.
func (h *tlsHandler) OnReady(err error) {
	ctx := context.Background()

	if h.socket.client {
		if h.onConnect != nil {
			h.onConnect(ctx, h.handle, err)
		}

		h.socket.connecting = false
		h.socket.connected = err == nil

		return
	}

	if h.onAccept != nil {
		h.onAccept(ctx, h.handle, err)
	}
}

// OnMessage implements the [tlsdns.Handler] interface for *tlsHandler.
//
// Like streamReadLoop's deliverMessage, each message is handed to the recv
// callback on a fresh per-message handle, claimed and released around the
// call, so the active-handle ceiling tracks messages actually in flight
// rather than the one static connection handle.
func (h *tlsHandler) OnMessage(msg []byte) {
	s := h.socket
	ctx := context.Background()

	armIdleTimeout(h.manager, h.handle)

	req := newRequest(s, requestRead)
	msgHandle := getHandle(s, h.handle.Peer(), h.handle.Local(), 0, false)
	req.bindHandle(msgHandle)

	if s.onRecv != nil {
		s.onRecv(ctx, msgHandle, nil, msg)
	}

	req.release(ctx)
	msgHandle.Detach(ctx)

	if s.sequential || s.client || s.activeHandles.count() >= activeHandleCeiling {
		s.tls.engine.Pause()
	}
}

// OnClosed implements the [tlsdns.Handler] interface for *tlsHandler.
func (h *tlsHandler) OnClosed(err error) {
	s := h.socket
	ctx := context.Background()

	h.manager.logger.Debug("tls-dns closed", "conn_id", h.handle.ConnID(), slogutil.KeyError, err)

	if s.onRecv != nil && err != nil {
		s.onRecv(ctx, h.handle, err, nil)
	}

	s.detach(ctx)
}
