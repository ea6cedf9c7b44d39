package netmgr

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle is the per-conversation reference given to callers above this
// package: one per received UDP datagram, one per TCP/TLS connection, one per in-flight
// DNS request/response pair. It is created by [getHandle] and released by
// [Handle.Detach].
type Handle struct {
	socket *Socket

	refCount atomic.Int32

	peer  net.Addr
	local net.Addr

	payload  any
	onReset  func(payload any)
	onFree   func(payload any)

	slot int

	extra []byte

	session any

	// connID correlates log lines for the lifetime of a connection-level
	// (static) handle. Empty for per-datagram UDP handles, which are too
	// short-lived to be worth tagging.
	connID string
}

// ConnID returns the handle's correlation ID, assigned once at accept/connect
// time for connection-oriented (static) handles. It is empty for per-datagram
// UDP handles.
func (h *Handle) ConnID() (id string) {
	return h.connID
}

// Conn returns the connection-level (static) handle backing h's socket: h
// itself for a connection handle, or the owning connection's handle for a
// per-message one. It is nil once the connection has fully torn down.
func (h *Handle) Conn() (connHandle *Handle) {
	return h.socket.staticHandle.Load()
}

// Peer returns the handle's peer address.
func (h *Handle) Peer() (addr net.Addr) {
	return h.peer
}

// Local returns the handle's local address.
func (h *Handle) Local() (addr net.Addr) {
	return h.local
}

// Data returns the handle's opaque payload, previously set by [Handle.SetData].
func (h *Handle) Data() (payload any) {
	return h.payload
}

// SetData attaches an opaque payload to the handle along with optional
// reset (called when the handle's last reference is released, whether it is
// then recycled or discarded) and free (called after reset when the handle is
// discarded instead of recycled) hooks.
func (h *Handle) SetData(payload any, onReset, onFree func(payload any)) {
	h.payload = payload
	h.onReset = onReset
	h.onFree = onFree
}

// Extra returns the extrahandlesize bytes co-allocated with the handle for
// caller-defined per-conversation state.
func (h *Handle) Extra() (b []byte) {
	return h.extra
}

// Attach increments the handle's reference count.
func (h *Handle) Attach() {
	h.refCount.Add(1)
}

// Detach decrements the handle's reference count. If it reaches zero, the
// handle is removed from its socket's active-handle table and either
// recycled into the socket's inactive stack or freed, and the socket's
// closeHandleCB (if any) is notified. Cross-thread detach is posted as an
// event to the owning worker rather than run inline, mirroring the "detach
// event carries an implicit reference" rule for cross-thread releases.
func (h *Handle) Detach(ctx context.Context) {
	if h.refCount.Add(-1) > 0 {
		return
	}

	s := h.socket

	if onWorker(ctx, s.worker) {
		h.release(ctx)

		return
	}

	s.worker.postFunc(classNormal, func(ctx context.Context, w *Worker) {
		h.release(ctx)
	})
}

// release does the actual teardown; must run on the owning worker.
func (h *Handle) release(ctx context.Context) {
	s := h.socket

	s.activeHandles.remove(h.slot)

	if s.staticHandle.Load() == h {
		s.staticHandle.Store(nil)
	}

	if h.onReset != nil {
		h.onReset(h.payload)
	}

	s.inactiveMu.Lock()
	room := len(s.inactiveHandles) < s.maxInactive
	if s.active && room {
		h.payload = nil
		h.onReset = nil
		h.onFree = nil
		h.peer = nil
		h.local = nil
		h.connID = ""
		s.inactiveHandles = append(s.inactiveHandles, h)
	}
	s.inactiveMu.Unlock()

	if !s.active || !room {
		if h.onFree != nil {
			h.onFree(h.payload)
		}
	}

	s.detach(ctx)
	s.onHandleReleased(ctx)
}

// getHandle creates or recycles a [Handle] bound to s, representing a
// conversation with peer over local. Defaults peer/local to the socket's
// own bound addresses when not supplied. For connection-style sockets
// (isStatic true) the new handle is additionally assigned to the socket's
// statichandle slot, without taking an extra reference — that link is
// deliberately weak; see the design notes on cross-thread ownership.
func getHandle(s *Socket, peer, local net.Addr, extraSize int, isStatic bool) (h *Handle) {
	s.inactiveMu.Lock()
	if n := len(s.inactiveHandles); n > 0 {
		h = s.inactiveHandles[n-1]
		s.inactiveHandles = s.inactiveHandles[:n-1]
	}
	s.inactiveMu.Unlock()

	if h == nil {
		h = &Handle{}
	}

	if peer == nil && s.conn != nil {
		peer = s.conn.RemoteAddr()
	}
	if local == nil {
		switch {
		case s.conn != nil:
			local = s.conn.LocalAddr()
		case s.packetConn != nil:
			local = s.packetConn.LocalAddr()
		}
	}

	h.socket = s
	h.refCount.Store(1)
	h.peer = peer
	h.local = local
	if extraSize > 0 {
		h.extra = make([]byte, extraSize)
	}

	s.attach()
	h.slot = s.activeHandles.claim(h)

	if isStatic {
		h.connID = uuid.NewString()
		s.staticHandle.Store(h)
	}

	return h
}

// handleTable is the dense array + LIFO free-slot stack backing a socket's
// active-handle set. The slice/stack bookkeeping is guarded by mu; the live
// count is kept in an atomic so [handleTable.count] can read it from any
// goroutine without taking the lock.
type handleTable struct {
	mu      sync.Mutex
	handles []*Handle
	frees   []int
	claimed atomic.Int32
}

func newHandleTable() (t *handleTable) {
	return &handleTable{}
}

// claim assigns h a slot, growing the dense array by doubling when the free
// stack is empty, and returns the slot index.
func (t *handleTable) claim(h *Handle) (slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.frees); n > 0 {
		slot = t.frees[n-1]
		t.frees = t.frees[:n-1]
		t.handles[slot] = h
	} else {
		slot = len(t.handles)
		t.handles = append(t.handles, h)
	}

	t.claimed.Add(1)

	return slot
}

// remove releases slot back to the free stack.
func (t *handleTable) remove(slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot < 0 || slot >= len(t.handles) || t.handles[slot] == nil {
		return
	}

	t.handles[slot] = nil
	t.frees = append(t.frees, slot)
	t.claimed.Add(-1)
}

// count returns the number of currently-claimed slots.
func (t *handleTable) count() (n int) {
	return int(t.claimed.Load())
}

// forEach calls fn once for every currently live handle. fn must not call
// back into claim/remove on the same table.
func (t *handleTable) forEach(fn func(h *Handle)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, h := range t.handles {
		if h != nil {
			fn(h)
		}
	}
}
