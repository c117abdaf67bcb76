package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, metrics.Track("notify:email").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("notify:email").End(boom), boom)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.runs.WithLabelValues("notify:email", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.runs.WithLabelValues("notify:email", "failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.failures.WithLabelValues("notify:email")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	require.NoError(t, metrics.Track("noop").End(nil))
}
