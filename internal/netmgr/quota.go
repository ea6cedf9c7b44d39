package netmgr

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// QuotaResult is the outcome of a [Quota.TryAdmit] call.
type QuotaResult int

// Quota results.
const (
	// QuotaAdmitted means the connection was accepted and counts against
	// the quota until [Quota.Release] is called for it.
	QuotaAdmitted QuotaResult = iota

	// QuotaSoftExceeded means the soft threshold was reached: the caller
	// should defer the accept (queue it for later, via [Quota.Defer])
	// rather than admit or drop it outright.
	QuotaSoftExceeded

	// QuotaHardExceeded means the hard threshold was reached: the caller
	// should drop the connection, logging it at most once per second.
	QuotaHardExceeded
)

// Quota is a per-listener admission-control counter. Unlike
// internal/connlimiter's blocking Accept wrapper, TryAdmit never blocks: it
// reports SOFT/HARD exceed states for the caller to act on (defer or
// reject), matching the manager's event-loop-driven accept path where
// nothing may block a worker's goroutine.
type Quota struct {
	mu      sync.Mutex
	current uint64
	soft    uint64
	hard    uint64
	waiters []func()

	limiter *rate.Limiter
	logger  *slog.Logger
}

// QuotaConfig configures a [Quota].
type QuotaConfig struct {
	// Soft is the number of concurrently admitted connections at which
	// TryAdmit starts returning [QuotaSoftExceeded]. Zero disables the
	// soft threshold (only Hard applies).
	Soft uint64

	// Hard is the number of concurrently admitted connections at which
	// TryAdmit starts returning [QuotaHardExceeded]. Must be greater than
	// zero.
	Hard uint64

	// Logger logs hard-quota rejections, rate-limited to once per second.
	// Must not be nil.
	Logger *slog.Logger
}

// NewQuota constructs a *Quota from cfg.
func NewQuota(cfg QuotaConfig) (q *Quota) {
	return &Quota{
		soft:    cfg.Soft,
		hard:    cfg.Hard,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  cfg.Logger,
	}
}

// TryAdmit attempts to admit one connection.
func (q *Quota) TryAdmit() (result QuotaResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current >= q.hard {
		if q.limiter.Allow() {
			q.logger.Warn("quota exceeded, rejecting connection", "current", q.current, "hard", q.hard)
		}

		return QuotaHardExceeded
	}

	if q.soft > 0 && q.current >= q.soft {
		return QuotaSoftExceeded
	}

	q.current++

	return QuotaAdmitted
}

// Release gives back one admitted slot and, if any deferred accept is
// waiting, runs the oldest one now that there is room.
func (q *Quota) Release() {
	var next func()

	q.mu.Lock()
	if q.current > 0 {
		q.current--
	}
	if len(q.waiters) > 0 {
		next = q.waiters[0]
		q.waiters = q.waiters[1:]
		q.current++
	}
	q.mu.Unlock()

	if next != nil {
		next()
	}
}

// Defer queues fn to run the next time a slot frees up after being
// soft-exceeded.
func (q *Quota) Defer(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.waiters = append(q.waiters, fn)
}

// Current reports the number of currently admitted connections.
func (q *Quota) Current() (n uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.current
}
