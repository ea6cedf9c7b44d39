package netmgr

// MetricsListener receives lifecycle observations from the manager.
// Statistics collection and export are out of this package's scope — a
// caller that wants Prometheus counters, logs, or anything else wires an
// implementation of this interface into [Config.Metrics] rather than this
// package reaching into a metrics library itself.
type MetricsListener interface {
	// OnAccept is called once per accepted connection, after quota
	// admission succeeds.
	OnAccept(variant Variant)

	// OnQuotaReject is called once per connection refused by admission
	// control, soft or hard.
	OnQuotaReject(soft bool)

	// OnClose is called once per socket, when [Socket.maybeCleanup] tears
	// it down after it has closed and released its last handle. err is
	// always nil.
	OnClose(variant Variant, err error)

	// OnTimeout is called once per timer firing against a socket.
	OnTimeout(variant Variant)
}

// EmptyMetricsListener implements [MetricsListener] by discarding every
// observation. It is the default when no listener is configured.
type EmptyMetricsListener struct{}

// type check
var _ MetricsListener = EmptyMetricsListener{}

// OnAccept implements the [MetricsListener] interface for
// EmptyMetricsListener.
func (EmptyMetricsListener) OnAccept(_ Variant) {}

// OnQuotaReject implements the [MetricsListener] interface for
// EmptyMetricsListener.
func (EmptyMetricsListener) OnQuotaReject(_ bool) {}

// OnClose implements the [MetricsListener] interface for
// EmptyMetricsListener.
func (EmptyMetricsListener) OnClose(_ Variant, _ error) {}

// OnTimeout implements the [MetricsListener] interface for
// EmptyMetricsListener.
func (EmptyMetricsListener) OnTimeout(_ Variant) {}
