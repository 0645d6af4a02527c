package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("installments_overdue_sweep").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("installments_overdue_sweep").End(boom), boom)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Runs("installments_overdue_sweep", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Runs("installments_overdue_sweep", "failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Failures("installments_overdue_sweep")), 0)
}

func TestAddItemsIgnoresEmptyRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddItems("idempotency_cleanup", 0)
	m.AddItems("idempotency_cleanup", 5)
	assert.InDelta(t, 5, testutil.ToFloat64(m.Items("idempotency_cleanup")), 0)

	var nilMetrics *Metrics
	nilMetrics.AddItems("idempotency_cleanup", 1)
	assert.NoError(t, nilMetrics.Track("idempotency_cleanup").End(nil))
}
