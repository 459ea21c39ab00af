package workflow

import (
	"context"
	"fmt"
	"time"

	monitoringmetrics "github.com/compozy/tasktree/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	subsystem      = "workflow"
	meterName      = "github.com/compozy/tasktree/engine/workflow"
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics instruments the driver loop. A nil *Metrics records nothing.
type Metrics struct {
	meter          metric.Meter
	tasksRunTotal  metric.Int64Counter
	completedTotal metric.Int64Counter
	cancelledTotal metric.Int64Counter
	eventsTotal    metric.Int64Counter
	runDuration    metric.Float64Histogram
	treeSize       metric.Int64Histogram
}

// NewMetrics registers the driver instruments on meter. A nil meter falls back
// to the global provider.
func NewMetrics(_ context.Context, meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	m := &Metrics{meter: meter}
	if err := m.initCounters(); err != nil {
		return nil, err
	}
	if err := m.initHistograms(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initCounters() error {
	defs := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.tasksRunTotal, "tasks_run_total", "Total tasks run by the driver"},
		{&m.completedTotal, "completed_total", "Total workflows that reached completion"},
		{&m.cancelledTotal, "cancelled_total", "Total workflows cancelled"},
		{&m.eventsTotal, "events_caught_total", "Total events delivered to catching tasks"},
	}
	for _, def := range defs {
		counter, err := m.meter.Int64Counter(
			monitoringmetrics.MetricNameWithSubsystem(subsystem, def.name),
			metric.WithDescription(def.description),
			metric.WithUnit("1"),
		)
		if err != nil {
			return fmt.Errorf("failed to create workflow %s counter: %w", def.name, err)
		}
		*def.target = counter
	}
	return nil
}

func (m *Metrics) initHistograms() error {
	var err error
	m.runDuration, err = m.meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystem, "run_duration_seconds"),
		metric.WithDescription("Duration of RunAll calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.RunDurationBuckets...),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow run duration histogram: %w", err)
	}
	m.treeSize, err = m.meter.Int64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystem, "tree_size"),
		metric.WithDescription("Number of tasks in a tree when a workflow finishes"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.TreeSizeBuckets...),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow tree size histogram: %w", err)
	}
	return nil
}

func (m *Metrics) OnTaskRun(ctx context.Context, definition, spec string, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	m.tasksRunTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", definition),
		attribute.String("spec", spec),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) OnFinished(ctx context.Context, definition string, cancelled, success bool, tasks int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("definition", definition),
		attribute.Bool("success", success),
	)
	if cancelled {
		m.cancelledTotal.Add(ctx, 1, attrs)
	} else {
		m.completedTotal.Add(ctx, 1, attrs)
	}
	m.treeSize.Record(ctx, int64(tasks), metric.WithAttributes(attribute.String("definition", definition)))
}

func (m *Metrics) OnEventCaught(ctx context.Context, event string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.eventsTotal.Add(ctx, int64(count), metric.WithAttributes(attribute.String("event", event)))
}

func (m *Metrics) ObserveRun(ctx context.Context, definition string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("definition", definition)))
}
