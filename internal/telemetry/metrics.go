package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Metrics holds the engine's instruments. A nil *Metrics is a valid no-op
// receiver, so components take it unconditionally.
type Metrics struct {
	runsStarted    metric.Int64Counter
	runsCompleted  metric.Int64Counter
	runSeconds     metric.Float64Histogram
	stagesDone     metric.Int64Counter
	stageSeconds   metric.Float64Histogram
	healthPolls    metric.Int64Counter
	triggersFired  metric.Int64Counter
	triggerErrors  metric.Int64Counter
	recordFailures metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.runsStarted, err = meter.Int64Counter("conveyor.runs.started",
		metric.WithDescription("Pipeline runs started")); err != nil {
		return nil, err
	}
	if m.runsCompleted, err = meter.Int64Counter("conveyor.runs.completed",
		metric.WithDescription("Pipeline runs reaching a terminal outcome")); err != nil {
		return nil, err
	}
	if m.runSeconds, err = meter.Float64Histogram("conveyor.run.duration",
		metric.WithDescription("Run wall-clock duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.stagesDone, err = meter.Int64Counter("conveyor.stages.completed",
		metric.WithDescription("Stages reaching a terminal state")); err != nil {
		return nil, err
	}
	if m.stageSeconds, err = meter.Float64Histogram("conveyor.stage.duration",
		metric.WithDescription("Stage wall-clock duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.healthPolls, err = meter.Int64Counter("conveyor.health.polls",
		metric.WithDescription("Health gate status polls")); err != nil {
		return nil, err
	}
	if m.triggersFired, err = meter.Int64Counter("conveyor.triggers.fired",
		metric.WithDescription("Downstream runs started by the trigger bridge")); err != nil {
		return nil, err
	}
	if m.triggerErrors, err = meter.Int64Counter("conveyor.triggers.failed",
		metric.WithDescription("Trigger bridge failures")); err != nil {
		return nil, err
	}
	if m.recordFailures, err = meter.Int64Counter("conveyor.ledger.record_failures",
		metric.WithDescription("Ledger writes that failed after retry")); err != nil {
		return nil, err
	}
	return m, nil
}

// RunStarted counts a run entering the scheduler.
func (m *Metrics) RunStarted(ctx context.Context, pipeline string) {
	if m == nil {
		return
	}
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline)))
}

// RunCompleted counts a terminal run outcome and records its duration.
func (m *Metrics) RunCompleted(ctx context.Context, pipeline string, outcome types.RunOutcome, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("outcome", string(outcome)),
	)
	m.runsCompleted.Add(ctx, 1, attrs)
	m.runSeconds.Record(ctx, seconds, attrs)
}

// StageCompleted counts a terminal stage state and records its duration.
func (m *Metrics) StageCompleted(ctx context.Context, pipeline, stage string, state types.StageState, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("stage", stage),
		attribute.String("state", string(state)),
	)
	m.stagesDone.Add(ctx, 1, attrs)
	m.stageSeconds.Record(ctx, seconds, attrs)
}

// HealthPoll counts one health gate status poll.
func (m *Metrics) HealthPoll(ctx context.Context, selector string, healthy bool) {
	if m == nil {
		return
	}
	m.healthPolls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("selector", selector),
		attribute.Bool("healthy", healthy),
	))
}

// TriggerFired counts a downstream run started by the bridge.
func (m *Metrics) TriggerFired(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.triggersFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// TriggerError counts a bridge failure for the upstream pipeline.
func (m *Metrics) TriggerError(ctx context.Context, pipeline string) {
	if m == nil {
		return
	}
	m.triggerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline)))
}

// RecordFailure counts a ledger write lost after retrying.
func (m *Metrics) RecordFailure(ctx context.Context, pipeline string) {
	if m == nil {
		return
	}
	m.recordFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline)))
}
