package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	m "github.com/orderout/nightglow/metrics"
)

func TestPrometheusClient(t *testing.T) {
	registry := prometheus.NewRegistry()
	client := NewPrometheusClient(registry)

	client.Counter("nightglow.task.succeeded", m.Tags{"workflow": "w1"}, 1)
	client.Counter("nightglow.task.succeeded", m.Tags{"workflow": "w1"}, 2)

	count, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, count, 1)
	require.Equal(t, "nightglow_task_succeeded", count[0].GetName())

	require.Equal(t, float64(3), testutil.ToFloat64(
		client.state.counters["nightglow.task.succeeded"].WithLabelValues("w1")))
}

func TestPrometheusWithTags(t *testing.T) {
	client := NewPrometheusClient(nil)
	tagged := client.WithTags(m.Tags{"workflow": "w1"})

	tagged.Counter("nightglow.step.executed", m.Tags{"step_type": "click"}, 1)
	tagged.Timing("nightglow.step.duration", m.Tags{"step_type": "click"}, 30*time.Millisecond)

	families, err := client.state.registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 2)

	// Both base and call-site tags become labels.
	for _, fam := range families {
		metric := fam.GetMetric()[0]
		labels := map[string]string{}
		for _, lp := range metric.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		require.Equal(t, "w1", labels["workflow"])
		require.Equal(t, "click", labels["step_type"])
	}
}
