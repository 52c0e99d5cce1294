package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"alephccn/observability/metrics"
)

func TestStageLatencyRecordsByLabel(t *testing.T) {
	n := metrics.NewForTest()
	n.StageLatency.WithLabelValues("validate").Observe(0.01)
	n.StageLatency.WithLabelValues("process").Observe(0.2)

	var m io_prometheus_client.Metric
	require.NoError(t, n.StageLatency.WithLabelValues("validate").(prometheus.Histogram).Write(&m))
	require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}

func TestRejectReasonsCounterIncrements(t *testing.T) {
	n := metrics.NewForTest()
	n.RejectReasons.WithLabelValues("unauthorized").Inc()
	n.RejectReasons.WithLabelValues("unauthorized").Inc()

	var m io_prometheus_client.Metric
	require.NoError(t, n.RejectReasons.WithLabelValues("unauthorized").(prometheus.Counter).Write(&m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())
}

func TestDefaultIsSingleton(t *testing.T) {
	a := metrics.Default()
	b := metrics.Default()
	require.Same(t, a, b)
}
