// Package bridge starts downstream delivery runs when an upstream CI run
// succeeds, carrying the published artifact reference across.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/armugharaj/full-stack-devops-automation/internal/telemetry"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// ErrAmbiguousArtifact means the upstream run did not produce exactly one
// publish artifact, so there is nothing unambiguous to hand downstream.
var ErrAmbiguousArtifact = errors.New("ambiguous artifact")

// Starter begins a run of the given definition.
type Starter interface {
	StartRun(ctx context.Context, def types.PipelineDefinition, rc types.RunContext) (string, error)
}

// DefinitionSource resolves pipeline names to their current definitions.
type DefinitionSource interface {
	Get(name string) (types.PipelineDefinition, bool)
}

// Bridge reacts to completed runs. Triggering is fire-and-forget: the
// upstream run's recorded outcome is never revised.
type Bridge struct {
	starter Starter
	defs    DefinitionSource
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics attaches engine instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New returns a Bridge starting downstream runs via starter, resolving
// definitions from defs.
func New(starter Starter, defs DefinitionSource, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		starter: starter,
		defs:    defs,
		logger:  logger.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Listener adapts the bridge for coordinator completion registration.
// Errors are already logged; the upstream run does not see them.
func (b *Bridge) Listener() func(types.Run) {
	return func(run types.Run) {
		_, _ = b.HandleCompletion(context.Background(), run)
	}
}

// HandleCompletion starts the configured downstream run when the completed
// run is a succeeded CI run with a downstream pipeline. It returns the new
// run's id, or "" when the run does not trigger anything.
func (b *Bridge) HandleCompletion(ctx context.Context, run types.Run) (string, error) {
	if run.Outcome != types.RunSucceeded || run.Kind != types.KindCI {
		return "", nil
	}
	def, ok := b.defs.Get(run.Pipeline)
	if !ok || def.Downstream == "" {
		return "", nil
	}
	downstream, ok := b.defs.Get(def.Downstream)
	if !ok {
		err := fmt.Errorf("downstream pipeline %q not found", def.Downstream)
		b.metrics.TriggerError(ctx, run.Pipeline)
		b.logger.Error("trigger aborted", "run", run.ID, "pipeline", run.Pipeline, "error", err)
		return "", err
	}

	ref, err := publishArtifact(run)
	if err != nil {
		b.metrics.TriggerError(ctx, run.Pipeline)
		b.logger.Warn("trigger aborted", "run", run.ID, "pipeline", run.Pipeline, "error", err)
		return "", err
	}

	rc := types.RunContext{
		Commit:      run.Context.Commit,
		Artifact:    ref,
		TriggeredBy: run.ID,
	}
	id, err := b.starter.StartRun(ctx, downstream, rc)
	if err != nil {
		b.metrics.TriggerError(ctx, run.Pipeline)
		b.logger.Error("downstream start failed",
			"run", run.ID, "downstream", downstream.Name, "error", err)
		return "", fmt.Errorf("start downstream %s: %w", downstream.Name, err)
	}

	b.metrics.TriggerFired(ctx, run.Pipeline, downstream.Name)
	b.logger.Info("downstream run triggered",
		"run", run.ID, "downstream", downstream.Name, "downstream_run", id,
		"artifact", ref.String())
	return id, nil
}

// publishArtifact returns the single artifact produced by the run's
// publish-classified stages.
func publishArtifact(run types.Run) (*types.ArtifactRef, error) {
	var ref *types.ArtifactRef
	count := 0
	for _, st := range run.Stages {
		if st.Class != types.ClassPublish || st.State != types.StageSucceeded || st.Artifact == nil {
			continue
		}
		count++
		ref = st.Artifact
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: run %s produced %d publish artifacts, need exactly 1",
			ErrAmbiguousArtifact, run.ID, count)
	}
	return ref, nil
}
