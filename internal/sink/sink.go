// Package sink delivers run events and metric samples to configured
// destinations. Delivery is fire and forget: sinks are never read back and a
// failing sink never affects a run.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// dispatchTimeout bounds a single fan-out so a stuck sink cannot hold up
// coordinator shutdown.
const dispatchTimeout = 15 * time.Second

// Sink is an event destination.
type Sink interface {
	Send(ctx context.Context, line types.LogLine) error
	Observe(ctx context.Context, sample types.Sample) error
	Name() string
}

// Dispatcher routes log lines and samples to configured sinks.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from sink configs.
func NewDispatcher(configs []types.SinkConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger.With("component", "sink")}
	for _, cfg := range configs {
		s, err := newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, s)
	}
	return d, nil
}

// Dispatch sends a log line to all configured sinks in parallel. Failures are
// logged per sink and never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, line types.LogLine) {
	var g errgroup.Group
	for _, s := range d.sinks {
		g.Go(func() error {
			if err := s.Send(ctx, line); err != nil {
				d.logger.Warn("sink delivery failed", "sink", s.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Observe sends a sample to all configured sinks in parallel.
func (d *Dispatcher) Observe(ctx context.Context, sample types.Sample) {
	var g errgroup.Group
	for _, s := range d.sinks {
		g.Go(func() error {
			if err := s.Observe(ctx, sample); err != nil {
				d.logger.Warn("sample delivery failed", "sink", s.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// RunListener adapts the dispatcher to the coordinator's completion callback.
// Each finished run produces a summary line and a duration sample; stages that
// failed or timed out get their own error lines.
func (d *Dispatcher) RunListener() func(types.Run) {
	return func(run types.Run) {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		completed := time.Now()
		if run.CompletedAt != nil {
			completed = *run.CompletedAt
		}

		level := types.LevelInfo
		if run.Outcome != types.RunSucceeded {
			level = types.LevelWarning
		}
		d.Dispatch(ctx, types.LogLine{
			Level:    level,
			Pipeline: run.Pipeline,
			RunID:    run.ID,
			Message:  fmt.Sprintf("run finished with outcome %s", run.Outcome),
			At:       completed,
		})

		for _, st := range run.Stages {
			if st.State != types.StageFailed && st.State != types.StageTimedOut {
				continue
			}
			msg := fmt.Sprintf("stage finished in state %s", st.State)
			if st.Error != "" {
				msg += ": " + st.Error
			}
			at := completed
			if st.FinishedAt != nil {
				at = *st.FinishedAt
			}
			d.Dispatch(ctx, types.LogLine{
				Level:    types.LevelError,
				Pipeline: run.Pipeline,
				RunID:    run.ID,
				Stage:    st.Name,
				Message:  msg,
				At:       at,
			})
		}

		d.Observe(ctx, types.Sample{
			Name:  "run_duration_seconds",
			Value: completed.Sub(run.CreatedAt).Seconds(),
			Labels: map[string]string{
				"pipeline": run.Pipeline,
				"outcome":  string(run.Outcome),
			},
			At: completed,
		})
	}
}

func newSink(cfg types.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case types.SinkConsole:
		return NewConsoleSink(), nil
	case types.SinkWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.SinkFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.SinkCloudWatch:
		return NewCloudWatchSink(cfg)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}
