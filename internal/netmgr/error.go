package netmgr

import "github.com/AdguardTeam/golibs/errors"

// Errors And Error Helpers
//
// These are the operation results every callback in this package receives
// instead of a raw error where the distinction matters to the caller —
// SUCCESS, a partial-stream condition, and genuine failures are different
// things to a caller, and collapsing them all into "error or nil" would
// lose that. NOMORE, EMPTY and SUSPEND are not failures; they are internal
// dispatch results callers of the package never see.

const (
	// ErrNoMore signals that a stream buffer held fewer bytes than a
	// complete framed message; not a failure, just "not yet".
	ErrNoMore errors.Error = "netmgr: incomplete message in buffer"

	// ErrQuotaExceeded signals that a listener's quota rejected a
	// connection outright (hard limit).
	ErrQuotaExceeded errors.Error = "netmgr: quota exceeded"

	// ErrSoftQuotaExceeded signals that a listener's quota deferred a
	// connection (soft limit); the accept is queued, not dropped.
	ErrSoftQuotaExceeded errors.Error = "netmgr: soft quota exceeded"

	// ErrCanceled signals an explicit cancel or a manager shutdown
	// interrupting an in-flight operation.
	ErrCanceled errors.Error = "netmgr: operation canceled"

	// ErrTimedOut signals a connect or read timer expiring.
	ErrTimedOut errors.Error = "netmgr: operation timed out"

	// ErrNotConnected signals a peer aborting during accept, before the
	// connection ever became usable.
	ErrNotConnected errors.Error = "netmgr: peer not connected"

	// ErrTLSFailed wraps a failure from the TLS engine.
	ErrTLSFailed errors.Error = "netmgr: tls engine error"

	// ErrNoResources signals OS resource exhaustion (e.g. accept failing
	// with EMFILE).
	ErrNoResources errors.Error = "netmgr: no resources available"

	// ErrFamilyNotSupported signals an address family the platform can't
	// open a socket for.
	ErrFamilyNotSupported errors.Error = "netmgr: address family not supported"

	// ErrUnexpected marks a programmer-visible fault: invalid socket
	// variant for the requested operation, wrong owning worker, or a
	// double-close. Callers that hit this have a bug; this package does
	// not try to recover from it gracefully.
	ErrUnexpected errors.Error = "netmgr: unexpected internal state"

	// ErrNotImplemented signals that an optional feature (typically a
	// platform socket option) is unavailable; the socket itself is still
	// usable.
	ErrNotImplemented errors.Error = "netmgr: not implemented on this platform"

	// ErrClosed is returned by operations against a socket or handle that
	// has already finished closing.
	ErrClosed errors.Error = "netmgr: socket closed"

	// ErrWrongVariant is the specific [ErrUnexpected] raised when an
	// operation is dispatched against a socket variant that does not
	// support it.
	ErrWrongVariant errors.Error = "netmgr: operation not supported by socket variant"
)
