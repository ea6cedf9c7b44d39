package metricsprom_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdguardTeam/netmgr/internal/netmgr"
	"github.com/AdguardTeam/netmgr/internal/netmgr/metricsprom"
)

func TestListener_OnAccept(t *testing.T) {
	reg := prometheus.NewRegistry()

	l, err := metricsprom.New("test", reg)
	require.NoError(t, err)

	l.OnAccept(netmgr.VariantTCPDNSSocket)
	l.OnAccept(netmgr.VariantTCPDNSSocket)

	families, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, float64(2), counterValue(t, families, "test_netmgr_accept_total", "variant", "tcp-dns-socket"))
}

func TestListener_OnQuotaReject(t *testing.T) {
	reg := prometheus.NewRegistry()

	l, err := metricsprom.New("test", reg)
	require.NoError(t, err)

	l.OnQuotaReject(true)
	l.OnQuotaReject(false)
	l.OnQuotaReject(false)

	families, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, float64(1), counterValue(t, families, "test_netmgr_quota_reject_total", "kind", "soft"))
	assert.Equal(t, float64(2), counterValue(t, families, "test_netmgr_quota_reject_total", "kind", "hard"))
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name, label, value string) (v float64) {
	t.Helper()

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}

		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}

	t.Fatalf("metric %s{%s=%q} not found", name, label, value)

	return 0
}
