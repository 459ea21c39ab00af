package monitoring

import (
	"context"
	"fmt"
	"time"

	monitoringmetrics "github.com/compozy/tasktree/engine/infra/monitoring/metrics"
	"github.com/compozy/tasktree/pkg/logger"
	"github.com/compozy/tasktree/pkg/version"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type systemMetrics struct {
	registration metric.Registration
}

func newSystemMetrics(ctx context.Context, meter metric.Meter) (*systemMetrics, error) {
	buildInfo, err := meter.Float64Gauge(
		monitoringmetrics.MetricName("build_info"),
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create build info gauge: %w", err)
	}
	uptime, err := meter.Float64ObservableGauge(
		monitoringmetrics.MetricName("uptime_seconds"),
		metric.WithDescription("Service uptime in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create uptime gauge: %w", err)
	}
	start := time.Now()
	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(start).Seconds())
		return nil
	}, uptime)
	if err != nil {
		return nil, fmt.Errorf("failed to register uptime callback: %w", err)
	}
	info := version.Get()
	buildInfo.Record(ctx, 1, metric.WithAttributes(
		attribute.String("version", info.Version),
		attribute.String("commit_hash", info.CommitHash),
		attribute.String("go_version", info.GoVersion),
	))
	logger.FromContext(ctx).Debug("System metrics initialized",
		"version", info.Version,
		"commit", info.CommitHash,
		"go_version", info.GoVersion,
	)
	return &systemMetrics{registration: registration}, nil
}

func (s *systemMetrics) unregister() error {
	if s.registration == nil {
		return nil
	}
	err := s.registration.Unregister()
	s.registration = nil
	return err
}
