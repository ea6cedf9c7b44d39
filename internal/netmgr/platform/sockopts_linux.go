//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// optionSetters is the ordered list of option groups applied by applyAll on
// Linux.
var optionSetters = []optionSetter{
	setReuse,
	setFreebind,
	setDontFragment,
	setTCPNoDelay,
	setConnectTimeout,
	setBufSizes,
	setIncomingCPU,
}

func setReuse(fd uintptr, _ string, o *Options) (err error) {
	if o.ReuseAddr {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf("SO_REUSEADDR: %w", err)
		}
	}

	if o.ReusePortLB {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fmt.Errorf("SO_REUSEPORT: %w", err)
		}
	}

	return nil
}

func setFreebind(fd uintptr, network string, o *Options) (err error) {
	if !o.Freebind {
		return nil
	}

	switch network {
	case "tcp", "tcp4", "udp", "udp4":
		err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_FREEBIND, 1)
	case "tcp6", "udp6":
		err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_FREEBIND, 1)
	default:
		return ErrNotImplemented
	}
	if err != nil {
		return fmt.Errorf("IP(V6)_FREEBIND: %w", err)
	}

	return nil
}

func setDontFragment(fd uintptr, network string, o *Options) (err error) {
	if !o.DontFragment {
		return nil
	}

	switch network {
	case "udp", "udp4":
		err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
	case "udp6":
		err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DO)
	default:
		return ErrNotImplemented
	}
	if err != nil {
		return fmt.Errorf("MTU_DISCOVER: %w", err)
	}

	return nil
}

func setTCPNoDelay(fd uintptr, network string, o *Options) (err error) {
	if !o.TCPNoDelay {
		return nil
	}

	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return ErrNotImplemented
	}

	err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if err != nil {
		return fmt.Errorf("TCP_NODELAY: %w", err)
	}

	return nil
}

func setConnectTimeout(fd uintptr, network string, o *Options) (err error) {
	if o.ConnectTimeoutMS <= 0 {
		return nil
	}

	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return ErrNotImplemented
	}

	err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, o.ConnectTimeoutMS)
	if err != nil {
		return fmt.Errorf("TCP_USER_TIMEOUT: %w", err)
	}

	return nil
}

func setBufSizes(fd uintptr, _ string, o *Options) (err error) {
	if o.RecvBufSize > 0 {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, o.RecvBufSize)
		if err != nil {
			return fmt.Errorf("SO_RCVBUF: %w", err)
		}
	}

	if o.SendBufSize > 0 {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, o.SendBufSize)
		if err != nil {
			return fmt.Errorf("SO_SNDBUF: %w", err)
		}
	}

	return nil
}

func setIncomingCPU(fd uintptr, _ string, o *Options) (err error) {
	if o.IncomingCPU < 0 {
		return nil
	}

	err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_INCOMING_CPU, o.IncomingCPU)
	if err != nil {
		// Older kernels don't support this option; treat as not implemented
		// rather than failing socket creation.
		return ErrNotImplemented
	}

	return nil
}
