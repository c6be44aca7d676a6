// Package coordinator turns pipeline definitions into runs and drives their
// stages to a terminal outcome.
//
// Each run is owned by a single scheduler goroutine: workers execute stages
// and report results over a channel, and only the scheduler transitions run
// state. Snapshots for status queries are taken under a short lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/armugharaj/full-stack-devops-automation/internal/dag"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/internal/telemetry"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// DefaultMaxParallel bounds concurrent stages within one run.
const DefaultMaxParallel = 4

var (
	// ErrDefinitionInvalid rejects a malformed definition before any stage
	// executes. No run is created.
	ErrDefinitionInvalid = errors.New("pipeline definition invalid")

	// ErrUnknownRun means no active run matches the requested id.
	ErrUnknownRun = errors.New("unknown run")
)

// StageRunner executes one stage to a terminal result.
type StageRunner interface {
	Execute(ctx context.Context, spec types.StageSpec, rc types.RunContext) types.StageResult
}

// CompletionListener observes completed runs after their ledger entry is
// written. Listeners run on the scheduler goroutine and should return quickly.
type CompletionListener func(types.Run)

// Coordinator schedules pipeline runs.
type Coordinator struct {
	runner      StageRunner
	store       ledger.Store
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	maxParallel int64

	mu        sync.Mutex
	active    map[string]*run
	listeners []CompletionListener
	wg        sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxParallel bounds concurrent stages per run.
func WithMaxParallel(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxParallel = int64(n)
		}
	}
}

// WithMetrics attaches engine instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New returns a Coordinator executing stages with runner and recording
// completed runs in store. A nil store disables recording.
func New(runner StageRunner, store ledger.Store, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		runner:      runner,
		store:       store,
		logger:      logger.With("component", "coordinator"),
		maxParallel: DefaultMaxParallel,
		active:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnRunCompleted registers a listener invoked after each run completes.
func (c *Coordinator) OnRunCompleted(fn CompletionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// run is the scheduler-owned state of one in-flight run.
type run struct {
	def    types.PipelineDefinition
	graph  *dag.Graph
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex // guards state for snapshot readers
	state *types.Run

	done  chan struct{}
	final types.Run // set before done closes
}

// Handle tracks one run from start to terminal outcome.
type Handle struct {
	RunID string
	r     *run
}

// Wait blocks until the run completes and returns its final snapshot.
func (h *Handle) Wait(ctx context.Context) (types.Run, error) {
	select {
	case <-h.r.done:
		return h.r.final.Clone(), nil
	case <-ctx.Done():
		return types.Run{}, ctx.Err()
	}
}

// Cancel requests termination of all running stages. Non-terminal stages end
// Skipped and the run's outcome becomes Cancelled.
func (h *Handle) Cancel() { h.r.cancel() }

// Start validates the definition, creates the run, and begins scheduling.
// The run executes in the background; ctx only governs the start call itself.
func (c *Coordinator) Start(ctx context.Context, def types.PipelineDefinition, rc types.RunContext) (*Handle, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: pipeline has no name", ErrDefinitionInvalid)
	}
	graph, err := dag.Build(def.Stages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC()
	state := &types.Run{
		ID:              id,
		Pipeline:        def.Name,
		PipelineVersion: def.Version,
		Kind:            def.Kind,
		Outcome:         types.RunRunning,
		Context:         rc,
		Stages:          make([]*types.StageStatus, 0, len(def.Stages)),
		CreatedAt:       now,
	}
	for _, s := range def.Stages {
		state.Stages = append(state.Stages, &types.StageStatus{
			Name:  s.Name,
			Class: s.Class,
			State: types.StagePending,
		})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		def:    def,
		graph:  graph,
		sem:    semaphore.NewWeighted(c.maxParallel),
		ctx:    runCtx,
		cancel: cancel,
		state:  state,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.active[id] = r
	c.mu.Unlock()

	c.metrics.RunStarted(ctx, def.Name)
	c.logger.Info("run started",
		"run", id, "pipeline", def.Name, "kind", def.Kind, "stages", len(def.Stages))

	c.wg.Add(1)
	go c.schedule(r)
	return &Handle{RunID: id, r: r}, nil
}

// StartRun starts a run and returns only its id. It serves callers that do
// not hold a handle, like the trigger bridge and the HTTP API.
func (c *Coordinator) StartRun(ctx context.Context, def types.PipelineDefinition, rc types.RunContext) (string, error) {
	h, err := c.Start(ctx, def, rc)
	if err != nil {
		return "", err
	}
	return h.RunID, nil
}

// CancelRun cancels an active run by id.
func (c *Coordinator) CancelRun(id string) error {
	c.mu.Lock()
	r, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	r.cancel()
	return nil
}

// ActiveRun returns a snapshot of an in-flight run.
func (c *Coordinator) ActiveRun(id string) (types.Run, bool) {
	c.mu.Lock()
	r, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return types.Run{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), true
}

// ActiveRuns snapshots every in-flight run, oldest first.
func (c *Coordinator) ActiveRuns() []types.Run {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.active))
	for _, r := range c.active {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	out := make([]types.Run, 0, len(runs))
	for _, r := range runs {
		r.mu.Lock()
		out = append(out, r.state.Clone())
		r.mu.Unlock()
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop waits for in-flight runs to finish. When ctx expires first, the
// remaining runs are cancelled and still recorded before Stop returns.
func (c *Coordinator) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	n := len(c.active)
	for _, r := range c.active {
		r.cancel()
	}
	c.mu.Unlock()
	if n > 0 {
		c.logger.Warn("shutdown cancelled in-flight runs", "count", n)
	}
	<-done
	return nil
}
