// Package metricsprom implements [netmgr.MetricsListener] by incrementing
// prometheus counters, the same pattern
// internal/dnsserver/prometheus.ServerMetricsListener uses for
// [dnsserver.MetricsListener].
package metricsprom

import (
	"fmt"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AdguardTeam/netmgr/internal/netmgr"
)

const subsystem = "netmgr"

// Listener implements [netmgr.MetricsListener] and increments prometheus
// counters for accept, quota-reject, close, and timeout events.
type Listener struct {
	acceptCounters  *syncutil.OnceConstructor[netmgr.Variant, prometheus.Counter]
	closeCounters   *syncutil.OnceConstructor[netmgr.Variant, prometheus.Counter]
	timeoutCounters *syncutil.OnceConstructor[netmgr.Variant, prometheus.Counter]
	quotaRejectSoft prometheus.Counter
	quotaRejectHard prometheus.Counter
}

// type check
var _ netmgr.MetricsListener = (*Listener)(nil)

// New returns a new *Listener with its counters registered against reg. As
// long as this function registers prometheus collectors it must be called
// only once per reg.
func New(namespace string, reg prometheus.Registerer) (l *Listener, err error) {
	const (
		acceptTotalName      = "accept_total"
		closeTotalName       = "close_total"
		timeoutTotalName     = "timeout_total"
		quotaRejectTotalName = "quota_reject_total"
	)

	acceptTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      acceptTotalName,
		Namespace: namespace,
		Subsystem: subsystem,
		Help:      "The number of connections accepted, by socket variant.",
	}, []string{"variant"})

	closeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      closeTotalName,
		Namespace: namespace,
		Subsystem: subsystem,
		Help:      "The number of sockets closed, by socket variant.",
	}, []string{"variant"})

	timeoutTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      timeoutTotalName,
		Namespace: namespace,
		Subsystem: subsystem,
		Help:      "The number of timers that fired, by socket variant.",
	}, []string{"variant"})

	quotaRejectTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      quotaRejectTotalName,
		Namespace: namespace,
		Subsystem: subsystem,
		Help:      "The number of connections rejected by admission control.",
	}, []string{"kind"})

	var errs []error
	collectors := container.KeyValues[string, prometheus.Collector]{{
		Key:   acceptTotalName,
		Value: acceptTotal,
	}, {
		Key:   closeTotalName,
		Value: closeTotal,
	}, {
		Key:   timeoutTotalName,
		Value: timeoutTotal,
	}, {
		Key:   quotaRejectTotalName,
		Value: quotaRejectTotal,
	}}

	for _, c := range collectors {
		if err = reg.Register(c.Value); err != nil {
			errs = append(errs, fmt.Errorf("registering metrics %q: %w", c.Key, err))
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Listener{
		acceptCounters: syncutil.NewOnceConstructor(
			func(v netmgr.Variant) (c prometheus.Counter) {
				return acceptTotal.WithLabelValues(v.String())
			},
		),
		closeCounters: syncutil.NewOnceConstructor(
			func(v netmgr.Variant) (c prometheus.Counter) {
				return closeTotal.WithLabelValues(v.String())
			},
		),
		timeoutCounters: syncutil.NewOnceConstructor(
			func(v netmgr.Variant) (c prometheus.Counter) {
				return timeoutTotal.WithLabelValues(v.String())
			},
		),
		quotaRejectSoft: quotaRejectTotal.WithLabelValues("soft"),
		quotaRejectHard: quotaRejectTotal.WithLabelValues("hard"),
	}, nil
}

// OnAccept implements the [netmgr.MetricsListener] interface for *Listener.
func (l *Listener) OnAccept(variant netmgr.Variant) {
	l.acceptCounters.Get(variant).Inc()
}

// OnQuotaReject implements the [netmgr.MetricsListener] interface for
// *Listener.
func (l *Listener) OnQuotaReject(soft bool) {
	if soft {
		l.quotaRejectSoft.Inc()

		return
	}

	l.quotaRejectHard.Inc()
}

// OnClose implements the [netmgr.MetricsListener] interface for *Listener.
func (l *Listener) OnClose(variant netmgr.Variant, _ error) {
	l.closeCounters.Get(variant).Inc()
}

// OnTimeout implements the [netmgr.MetricsListener] interface for *Listener.
func (l *Listener) OnTimeout(variant netmgr.Variant) {
	l.timeoutCounters.Get(variant).Inc()
}
