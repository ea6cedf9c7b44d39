//go:build !linux

package platform

// optionSetters on non-Linux platforms reports every option as not
// implemented rather than failing socket creation.  Re-implementations
// targeting BSD derivatives should plug in IP_BINDANY/SO_BINDANY,
// IPV6_DONTFRAG, TCP_CONNECTIONTIMEOUT/TCP_RXT_CONNDROPTIME/TCP_MAXRT/
// TCP_KEEPINIT here; see sockopts_linux.go for the Linux equivalents this
// stands in for.
var optionSetters = []optionSetter{
	func(uintptr, string, *Options) error { return ErrNotImplemented },
}
