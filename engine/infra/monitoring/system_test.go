package monitoring

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func findMetric(rm *metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func attrString(t *testing.T, set attribute.Set, key string) string {
	t.Helper()
	value, ok := set.Value(attribute.Key(key))
	require.True(t, ok, "missing attribute %q", key)
	require.Equal(t, attribute.STRING, value.Type())
	return value.AsString()
}

func TestSystemMetrics(t *testing.T) {
	t.Run("Should record build info and uptime", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		system, err := newSystemMetrics(t.Context(), provider.Meter("test"))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(t.Context(), &rm))
		m, ok := findMetric(&rm, "tasktree_build_info")
		require.True(t, ok)
		gauge, ok := m.Data.(metricdata.Gauge[float64])
		require.True(t, ok)
		require.Len(t, gauge.DataPoints, 1)
		assert.Equal(t, float64(1), gauge.DataPoints[0].Value)
		attrs := gauge.DataPoints[0].Attributes
		assert.Equal(t, runtime.Version(), attrString(t, attrs, "go_version"))
		assert.NotEmpty(t, attrString(t, attrs, "version"))

		m, ok = findMetric(&rm, "tasktree_uptime_seconds")
		require.True(t, ok)
		uptime, ok := m.Data.(metricdata.Gauge[float64])
		require.True(t, ok)
		require.Len(t, uptime.DataPoints, 1)
		assert.Greater(t, uptime.DataPoints[0].Value, float64(0))

		require.NoError(t, system.unregister())
		require.NoError(t, system.unregister())
	})
}
