package tlsdns

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// State is the lifecycle state of an [Engine], mirroring the manager's
// TLS-DNS state machine: a connection starts in [StateNone], moves to
// [StateHandshake] while the TLS handshake runs, to [StateIO] once it
// completes and framed messages are flowing, and finally to [StateError] (or
// is simply closed) on any fatal condition. States move forward only; there
// is no path back to an earlier one.
type State int32

// Engine states.
const (
	StateNone State = iota
	StateHandshake
	StateIO
	StateError
)

// String implements the [fmt.Stringer] interface for State.
func (s State) String() (str string) {
	switch s {
	case StateNone:
		return "none"
	case StateHandshake:
		return "handshake"
	case StateIO:
		return "io"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Role distinguishes the server and client ends of a TLS-DNS connection; the
// only behavioral difference is which side of [tls.Conn] construction
// applies.
type Role int

// Engine roles.
const (
	RoleServer Role = iota
	RoleClient
)

// ErrClosed is returned by [Engine.Send] once the engine has shut down.
const ErrClosed errors.Error = "tlsdns: engine closed"

// ErrReentrant is a programmer-error panic value: it fires if the cycle that
// pumps a connection's bytes is entered while already running for that same
// connection.  The manager's design forbids resume_processing from firing
// re-entrantly against a read callback still on the stack; this is the
// TLS-DNS engine's equivalent guard.
const ErrReentrant errors.Error = "tlsdns: cycle entered re-entrantly"

// Handler receives the events an [Engine] produces.  All three methods run
// on the engine's own per-connection goroutine — never concurrently with
// each other — and must not block on anything that depends on the engine
// making further progress.
type Handler interface {
	// OnReady is called exactly once, after the TLS handshake completes or
	// fails. err is nil on success.
	OnReady(err error)

	// OnMessage is called once per complete, de-framed DNS message read off
	// the connection. The slice is only valid until OnMessage returns.
	OnMessage(msg []byte)

	// OnClosed is called exactly once, when the connection's read loop
	// exits for any reason, including a clean EOF (err is nil) or the
	// engine being closed locally.
	OnClosed(err error)
}

// Engine drives one TLS-wrapped, length-prefixed-DNS-framed connection. It
// replaces the manager's explicit pair of memory BIOs and hand-cranked
// cycle function with the idiomatic Go equivalent: a dedicated goroutine
// blocked on the standard library's [tls.Conn], since Go's cheap goroutines
// make the manager's non-blocking, single-threaded-per-worker BIO pump
// unnecessary — this is the same trade the dnsserver package it is modeled
// on already makes for its own TLS listener. The externally observable
// contract (explicit state progression, re-entrancy guard, single
// in-flight write, read backpressure) is preserved on top of that goroutine.
type Engine struct {
	handler Handler
	logger  *slog.Logger

	state atomic.Int32

	conn *tls.Conn

	writeMu sync.Mutex

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool

	processing atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates an Engine wrapping raw, not yet wrapped in TLS. cfg
// is the [tls.Config] to hand to [tls.Server] or [tls.Client] depending on
// role. handler must not be nil.
func New(raw net.Conn, role Role, cfg *tls.Config, handler Handler, logger *slog.Logger) (e *Engine) {
	var conn *tls.Conn
	if role == RoleServer {
		conn = tls.Server(raw, cfg)
	} else {
		conn = tls.Client(raw, cfg)
	}

	e = &Engine{
		handler: handler,
		logger:  logger,
		conn:    conn,
		closed:  make(chan struct{}),
	}
	e.pauseCond = sync.NewCond(&e.pauseMu)
	e.state.Store(int32(StateNone))

	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() (s State) {
	return State(e.state.Load())
}

// Run performs the handshake and then pumps framed messages until the
// connection closes or ctx is canceled. Run is the engine's cycle: it must
// be called exactly once, from exactly one goroutine, for the lifetime of
// the connection — calling it again, or from a second goroutine, would be
// the re-entrant cycle invocation the manager's design forbids.
func (e *Engine) Run(ctx context.Context) {
	if !e.processing.CompareAndSwap(false, true) {
		panic(ErrReentrant)
	}
	defer e.processing.Store(false)

	defer slogutil.RecoverAndLog(ctx, e.logger)

	e.state.Store(int32(StateHandshake))

	err := e.conn.HandshakeContext(ctx)
	e.handler.OnReady(err)
	if err != nil {
		e.state.Store(int32(StateError))
		e.finish(err)

		return
	}

	e.state.Store(int32(StateIO))
	e.readLoop(ctx)
}

func (e *Engine) readLoop(ctx context.Context) {
	var pending []byte
	buf := make([]byte, MaxMessageSize+2)

	for {
		e.waitUnlessPaused()

		select {
		case <-e.closed:
			e.finish(nil)

			return
		case <-ctx.Done():
			e.finish(ctx.Err())

			return
		default:
		}

		n, err := e.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			for {
				msg, consumed, ok := ProcessBuffer(pending)
				if !ok {
					break
				}

				e.handler.OnMessage(msg)
				pending = pending[consumed:]
			}
		}

		if err != nil {
			e.state.Store(int32(StateError))
			if errors.Is(err, io.EOF) {
				err = nil
			}
			e.finish(err)

			return
		}
	}
}

// Pause stops the read loop from issuing further reads until [Engine.Resume]
// is called, mirroring the manager's active-handle-ceiling backpressure: a
// connection that has accumulated too many undelivered messages is paused
// until its owner catches up.
func (e *Engine) Pause() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()

	e.paused = true
}

// Resume reverses a prior [Engine.Pause].
func (e *Engine) Resume() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()

	e.paused = false
	e.pauseCond.Broadcast()
}

func (e *Engine) waitUnlessPaused() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()

	for e.paused {
		e.pauseCond.Wait()
	}
}

// Send frames msg and writes it to the connection. Send serializes against
// concurrent callers: the manager's design allows at most one outbound send
// buffer in flight at a time, which here falls out of holding writeMu for
// the duration of the (blocking) TLS write.
func (e *Engine) Send(msg []byte) (err error) {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}

	framed, err := AppendFramed(nil, msg)
	if err != nil {
		return fmt.Errorf("framing message: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	_, err = e.conn.Write(framed)

	return err
}

// Close shuts down the engine's connection and unblocks its read loop.
func (e *Engine) Close() (err error) {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.Resume()
		err = e.conn.Close()
	})

	return err
}

func (e *Engine) finish(err error) {
	e.handler.OnClosed(err)
}
