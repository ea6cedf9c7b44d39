// Package platform isolates the OS-specific socket-option and CPU-affinity
// shims used by the network manager.  A socket option the running platform
// lacks is skipped rather than failing the socket it applies to; other
// errors from setting an option are returned.
package platform

import (
	"net"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrNotImplemented is returned internally by the per-option setters when the
// requested option has no equivalent on the running platform.  Callers of
// [Options.ListenConfig] never see it: unsupported options are skipped.
const ErrNotImplemented errors.Error = "platform: not implemented"

// Options bundles the socket options the manager may want to apply to a
// freshly created listening or connecting socket.  Zero values mean "leave
// the OS default", except for IncomingCPU, where zero requests CPU 0.
type Options struct {
	// ReuseAddr requests SO_REUSEADDR.
	ReuseAddr bool

	// ReusePortLB requests the load-balancing flavor of SO_REUSEPORT, used
	// when every worker opens its own listening file descriptor for the same
	// address (see the manager's listener fan-out, §4.5).
	ReusePortLB bool

	// Freebind requests IP_FREEBIND / IPV6_FREEBIND (or IP_BINDANY /
	// SO_BINDANY on BSD-derived systems), allowing a bind to an address that
	// isn't yet configured on any local interface.
	Freebind bool

	// DontFragment requests IP_MTU_DISCOVER/IPV6_DONTFRAG-style PMTU
	// behavior for UDP sockets.
	DontFragment bool

	// TCPNoDelay requests TCP_NODELAY.  It only applies to TCP sockets.
	TCPNoDelay bool

	// ConnectTimeoutMS, when non-zero, requests the platform's connection
	// establishment timeout knob: TCP_USER_TIMEOUT on Linux, or the nearest
	// equivalent (TCP_CONNECTIONTIMEOUT, TCP_RXT_CONNDROPTIME, TCP_KEEPINIT,
	// TCP_MAXRT) elsewhere.  In milliseconds.
	ConnectTimeoutMS int

	// RecvBufSize and SendBufSize request SO_RCVBUF / SO_SNDBUF in bytes.
	// Zero leaves the OS default untouched.
	RecvBufSize int
	SendBufSize int

	// IncomingCPU, when non-negative, requests SO_INCOMING_CPU so that the
	// kernel steers new connections for this listening socket toward the CPU
	// running the worker that owns it.  Negative disables it.
	IncomingCPU int
}

// optionSetter applies one concern from Options to fd.  network is "tcp" or
// "udp" (always lowercase, as passed to [net.ListenConfig.Control]).
// Implementations live in sockopts_linux.go and sockopts_other.go and must
// return [ErrNotImplemented] rather than an error when the platform lacks the
// knob, so that applyAll can keep going.
type optionSetter func(fd uintptr, network string, o *Options) (err error)

// applyAll runs every platform-specific setter against fd, ignoring
// [ErrNotImplemented] from each one but aborting on any other error.
func applyAll(fd uintptr, network string, o *Options) (err error) {
	for _, set := range optionSetters {
		err = set(fd, network, o)
		if err != nil && !errors.Is(err, ErrNotImplemented) {
			return err
		}
	}

	return nil
}

// ListenConfig returns a [net.ListenConfig] whose Control function applies o
// to every socket it creates.  network passed to Listen/ListenPacket must be
// "tcp" or "udp" (with optional "4"/"6" suffix).
func (o *Options) ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, _ string, c syscall.RawConn) (err error) {
			return o.control(network, c)
		},
	}
}

// Apply sets o on an already-open connection that exposes SyscallConn, such
// as a freshly [net.Dialer]-created [*net.TCPConn] before the manager hands
// it to a socket.
func (o *Options) Apply(network string, conn syscallConner) (err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return o.control(network, raw)
}

// syscallConner is implemented by [*net.TCPConn] and [*net.UDPConn].
type syscallConner interface {
	SyscallConn() (raw syscall.RawConn, err error)
}

func (o *Options) control(network string, c syscall.RawConn) (err error) {
	var applyErr error
	err = c.Control(func(fd uintptr) {
		applyErr = applyAll(fd, network, o)
	})
	if err != nil {
		return err
	}

	return applyErr
}
