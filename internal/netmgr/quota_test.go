package netmgr

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQuota_AdmitsUpToHard(t *testing.T) {
	q := NewQuota(QuotaConfig{Hard: 2, Logger: testLogger()})

	assert.Equal(t, QuotaAdmitted, q.TryAdmit())
	assert.Equal(t, QuotaAdmitted, q.TryAdmit())
	assert.Equal(t, QuotaHardExceeded, q.TryAdmit())

	assert.Equal(t, uint64(2), q.Current())
}

func TestQuota_SoftExceededBeforeHard(t *testing.T) {
	q := NewQuota(QuotaConfig{Soft: 1, Hard: 2, Logger: testLogger()})

	require.Equal(t, QuotaAdmitted, q.TryAdmit())
	assert.Equal(t, QuotaSoftExceeded, q.TryAdmit())
	assert.Equal(t, uint64(1), q.Current())
}

func TestQuota_ReleaseFreesASlot(t *testing.T) {
	q := NewQuota(QuotaConfig{Hard: 1, Logger: testLogger()})

	require.Equal(t, QuotaAdmitted, q.TryAdmit())
	assert.Equal(t, QuotaHardExceeded, q.TryAdmit())

	q.Release()

	assert.Equal(t, QuotaAdmitted, q.TryAdmit())
}

func TestQuota_ReleaseRunsDeferredWaiter(t *testing.T) {
	q := NewQuota(QuotaConfig{Hard: 1, Logger: testLogger()})

	require.Equal(t, QuotaAdmitted, q.TryAdmit())

	ran := false
	q.Defer(func() { ran = true })

	q.Release()

	assert.True(t, ran)
	assert.Equal(t, uint64(1), q.Current())
}
