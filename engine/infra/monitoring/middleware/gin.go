package middleware

import (
	"context"
	"strconv"
	"time"

	monitoringmetrics "github.com/compozy/tasktree/engine/infra/monitoring/metrics"
	"github.com/compozy/tasktree/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const subsystem = "http"

type instruments struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	requestsInFlight metric.Int64UpDownCounter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	in.requestsTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystem, "requests_total"),
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}
	in.requestDuration, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystem, "request_duration_seconds"),
		metric.WithDescription("HTTP request latency"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.HTTPDurationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	in.requestsInFlight, err = meter.Int64UpDownCounter(
		monitoringmetrics.MetricNameWithSubsystem(subsystem, "requests_in_flight"),
		metric.WithDescription("Currently active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// HTTPMetrics returns a Gin middleware that collects HTTP metrics on meter.
// A meter that cannot create the instruments yields a pass-through handler.
func HTTPMetrics(ctx context.Context, meter metric.Meter) gin.HandlerFunc {
	if meter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	in, err := newInstruments(meter)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create HTTP metrics instruments", "error", err)
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqCtx := c.Request.Context()
		in.requestsInFlight.Add(reqCtx, 1)
		defer in.requestsInFlight.Add(reqCtx, -1)
		c.Next()
		in.record(c, start)
	}
}

func (in *instruments) record(c *gin.Context, start time.Time) {
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	attrs := metric.WithAttributes(
		attribute.String("method", c.Request.Method),
		attribute.String("path", path),
		attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
	)
	in.requestsTotal.Add(c.Request.Context(), 1, attrs)
	in.requestDuration.Record(c.Request.Context(), time.Since(start).Seconds(), attrs)
}
