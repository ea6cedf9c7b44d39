// Package taskpool wraps [ants.Pool] with the conventions the network
// manager needs for running callbacks that must not execute inline on a
// worker's event-loop goroutine: an unbounded, non-blocking, self-expiring
// pool shared by every worker, with panics recovered and logged rather than
// propagated.
package taskpool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/panjf2000/ants/v2"
)

// Pool runs submitted funcs on pooled, reusable goroutines.  The zero value
// is not usable; construct with [New].
type Pool struct {
	pool   *ants.Pool
	logger *slog.Logger
}

// antsLogger adapts a [*slog.Logger] to the [ants.Logger] interface.
type antsLogger struct {
	logger *slog.Logger
}

// type check
var _ ants.Logger = (*antsLogger)(nil)

// Printf implements the [ants.Logger] interface for *antsLogger.
func (l *antsLogger) Printf(format string, args ...any) {
	l.logger.Info("taskpool", slogutil.KeyMessage, fmt.Sprintf(format, args...))
}

// New creates a *Pool with an unbounded number of goroutines (capacity 0
// means "no limit" for [ants.Pool]) that idle out after a minute of
// inactivity.  logger must not be nil.
func New(logger *slog.Logger) (p *Pool) {
	pool, err := ants.NewPool(0, ants.WithOptions(ants.Options{
		ExpiryDuration: time.Minute,
		Nonblocking:    true,
		Logger:         &antsLogger{logger: logger},
	}))
	errors.Check(err)

	return &Pool{pool: pool, logger: logger}
}

// Submit runs f on a pooled goroutine.  It recovers and logs any panic from
// f instead of letting it escape, since f runs detached from whatever
// goroutine called Submit.  ok is false if the pool rejected f outright
// (it is at capacity and configured non-blocking, or it has been released);
// in that case the caller is responsible for running f synchronously or
// dropping it.
func (p *Pool) Submit(f func()) (ok bool) {
	err := p.pool.Submit(func() {
		defer slogutil.RecoverAndLog(context.Background(), p.logger)

		f()
	})

	return err == nil
}

// Running returns the number of goroutines currently executing submitted
// funcs.
func (p *Pool) Running() (n int) {
	return p.pool.Running()
}

// Release stops accepting new work and waits for in-flight funcs to finish.
func (p *Pool) Release() {
	p.pool.Release()
}
