package netmgr

import (
	"context"

	"github.com/AdguardTeam/netmgr/internal/netmgr/tlsdns"
)

// Send writes msg, framed with its 2-byte length prefix, to h's connection
// and reports the outcome to cb. For TLS-DNS handles the write goes through
// the TLS engine; for plain TCP-DNS handles it goes directly to the
// underlying conn. The write is carried by a [Request] bound to h for its
// duration, the same way every other per-operation I/O in this package is
// tracked. Fails fatally (panics) for variants that don't support sending —
// a programmer error, per the per-variant dispatch contract in §4.6.
func (h *Handle) Send(ctx context.Context, msg []byte, cb sendCallback) {
	s := h.socket

	if !s.variant.isStream() {
		panic(ErrWrongVariant)
	}

	run := func() {
		req := newRequest(s, requestSend)
		req.bindHandle(h)

		var err error
		if s.tls != nil && s.tls.engine != nil {
			err = s.tls.engine.Send(msg)
		} else {
			framed, fErr := tlsdns.AppendFramed(req.buf[:0], msg)
			if fErr != nil {
				err = fErr
			} else {
				req.buf = framed
				_, err = s.conn.Write(req.buf)
			}
		}

		req.release(ctx)

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

// CancelRead aborts any in-flight read on h's connection with
// [ErrCanceled] and tears the socket down, per §5 cancellation semantics.
func (h *Handle) CancelRead(ctx context.Context) {
	s := h.socket

	if s.onRecv != nil {
		s.onRecv(ctx, h, ErrCanceled, nil)
	}

	s.detach(ctx)
}

// PauseRead halts further reads on h's connection until [Handle.ResumeRead]
// is called. Only supported on stream variants.
func (h *Handle) PauseRead() {
	s := h.socket
	if !s.variant.isStream() {
		panic(ErrWrongVariant)
	}

	if s.tls != nil && s.tls.engine != nil {
		s.tls.engine.Pause()

		return
	}

	s.pauseReading()
}

// ResumeRead reverses a prior [Handle.PauseRead].
func (h *Handle) ResumeRead() {
	s := h.socket
	if !s.variant.isStream() {
		panic(ErrWrongVariant)
	}

	if s.tls != nil && s.tls.engine != nil {
		s.tls.engine.Resume()

		return
	}

	s.resumeReading()
}

// SetTimeout arms h's socket's read timer (or connect timer, if still
// connecting) for ms milliseconds.
func (h *Handle) SetTimeout(ms int64) {
	s := h.socket

	if s.connecting {
		s.connectTimeoutMS.Store(ms)
		s.armTimer(s.connectTimerDuration(), func() {
			s.connecting = false

			if s.onConnect != nil {
				s.onConnect(context.Background(), h, ErrTimedOut)
			}

			s.detach(context.Background())
		})

		return
	}

	s.readTimeoutMS.Store(ms)
	s.armTimer(ms, func() {
		ctx := context.Background()

		if s.onRecv != nil {
			s.onRecv(ctx, h, ErrTimedOut, nil)
		}

		if s.client {
			s.detach(ctx)
		}
	})
}

// ClearTimeout disarms h's socket's timer. A no-op if it was already
// disarmed.
func (h *Handle) ClearTimeout() {
	h.socket.stopTimer()
}

// SetSequential toggles strict one-message-at-a-time delivery on h's
// connection: the read loop pauses after every message, regardless of the
// active-handle ceiling, and only resumes once the handle backing that
// message is released. Only supported on stream variants.
func (h *Handle) SetSequential(sequential bool) {
	s := h.socket
	if !s.variant.isStream() {
		panic(ErrWrongVariant)
	}

	s.sequential = sequential
}

// armInitialTimeout arms h's read timer for the manager's configured Init
// timeout, falling back to Idle if Init is unset, covering the window
// between a connection becoming ready and its first message arriving.
func armInitialTimeout(m *Manager, h *Handle) {
	t := m.GetTimeouts()

	ms := t.Init
	if ms <= 0 {
		ms = t.Idle
	}

	if ms > 0 {
		h.SetTimeout(ms)
	}
}

// armIdleTimeout (re)arms h's read timer for the manager's configured Idle
// timeout. Called after every delivered message so inactivity, not total
// connection age, is what trips [ErrTimedOut].
func armIdleTimeout(m *Manager, h *Handle) {
	ms := m.GetTimeouts().Idle
	if ms > 0 {
		h.SetTimeout(ms)
	}
}
