package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/internal/lifecycle"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const tracerName = "conveyor"

// stageDone carries a worker's result back to the scheduler.
type stageDone struct {
	name string
	res  types.StageResult
}

// schedule is the single writer for one run's state. It dispatches runnable
// stages, applies results, and fixes the terminal outcome.
func (c *Coordinator) schedule(r *run) {
	defer c.wg.Done()

	ctx, span := otel.Tracer(tracerName).Start(r.ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline", r.def.Name),
			attribute.String("run.id", r.state.ID),
		))
	defer span.End()

	results := make(chan stageDone)
	inflight := 0
	for {
		if r.ctx.Err() != nil {
			break
		}
		inflight += c.dispatch(ctx, r, results)
		if inflight == 0 {
			break
		}
		select {
		case d := <-results:
			inflight--
			c.applyResult(ctx, r, d)
		case <-r.ctx.Done():
		}
	}

	// Stages still executing after cancellation drain here. Their results
	// are discarded: they were non-terminal when the run was cancelled.
	for inflight > 0 {
		d := <-results
		inflight--
		if r.ctx.Err() != nil {
			c.applyCancelled(r, d)
		} else {
			c.applyResult(ctx, r, d)
		}
	}

	final := c.finish(ctx, r)
	span.SetAttributes(attribute.String("run.outcome", string(final.Outcome)))

	r.final = final
	close(r.done)

	c.mu.Lock()
	delete(c.active, final.ID)
	listeners := make([]CompletionListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(final.Clone())
	}
}

// dispatch starts a worker for every runnable stage, bounded by the run's
// semaphore. A stage is runnable when it is Pending and every dependency
// is Succeeded.
func (c *Coordinator) dispatch(ctx context.Context, r *run, results chan<- stageDone) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := 0
	for _, name := range r.graph.Order() {
		st := r.state.StageByName(name)
		if st.State != types.StagePending || !c.depsSucceeded(r, name) {
			continue
		}
		if !r.sem.TryAcquire(1) {
			break
		}
		now := time.Now().UTC()
		st.State = types.StageRunning
		st.StartedAt = &now
		spec, _ := r.def.Stage(name)
		rc := r.state.Context
		started++
		c.logger.Info("stage started", "run", r.state.ID, "pipeline", r.def.Name, "stage", name)
		go c.work(ctx, r, spec, rc, results)
	}
	return started
}

func (c *Coordinator) depsSucceeded(r *run, name string) bool {
	for _, dep := range r.graph.Deps(name) {
		st := r.state.StageByName(dep)
		if st == nil || st.State != types.StageSucceeded {
			return false
		}
	}
	return true
}

// work executes one stage and reports back. It never touches run state.
func (c *Coordinator) work(ctx context.Context, r *run, spec types.StageSpec, rc types.RunContext, results chan<- stageDone) {
	defer r.sem.Release(1)

	sctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.stage",
		trace.WithAttributes(
			attribute.String("stage", spec.Name),
			attribute.String("class", string(spec.Class)),
		))
	res := c.runner.Execute(sctx, spec, rc)
	span.SetAttributes(attribute.String("stage.state", string(res.State)))
	span.End()

	results <- stageDone{name: spec.Name, res: res}
}

// applyResult fixes one stage's terminal state and propagates skips.
func (c *Coordinator) applyResult(ctx context.Context, r *run, d stageDone) {
	r.mu.Lock()
	st := r.state.StageByName(d.name)
	if err := lifecycle.TransitionStage(st.State, d.res.State); err != nil {
		r.mu.Unlock()
		c.logger.Error("stage transition rejected",
			"run", r.state.ID, "stage", d.name, "error", err)
		return
	}
	now := time.Now().UTC()
	st.State = d.res.State
	st.Attempts = d.res.Attempts
	st.Output = d.res.Output
	st.Error = d.res.Error
	st.Artifact = d.res.Artifact
	st.FinishedAt = &now

	if d.res.State == types.StageSucceeded && d.res.Artifact != nil {
		// Later stages and the trigger bridge see the newest artifact.
		r.state.Context.Artifact = d.res.Artifact
	}
	if d.res.State != types.StageSucceeded {
		c.propagateSkips(r, now)
	}
	var seconds float64
	if st.StartedAt != nil {
		seconds = now.Sub(*st.StartedAt).Seconds()
	}
	r.mu.Unlock()

	c.metrics.StageCompleted(ctx, r.def.Name, d.name, d.res.State, seconds)
	if d.res.State == types.StageSucceeded {
		c.logger.Info("stage succeeded",
			"run", r.state.ID, "stage", d.name, "attempts", d.res.Attempts)
		return
	}
	c.logger.Warn("stage did not succeed",
		"run", r.state.ID, "stage", d.name, "state", d.res.State,
		"attempts", d.res.Attempts, "error", d.res.Error)
}

// propagateSkips marks Pending stages whose dependencies can no longer all
// succeed. One pass in topological order reaches the fixpoint, because a
// stage's dependencies always precede it in the order. Caller holds r.mu.
func (c *Coordinator) propagateSkips(r *run, now time.Time) {
	for _, name := range r.graph.Order() {
		st := r.state.StageByName(name)
		if st.State != types.StagePending {
			continue
		}
		for _, dep := range r.graph.Deps(name) {
			ds := r.state.StageByName(dep)
			if ds == nil {
				continue
			}
			switch ds.State {
			case types.StageFailed, types.StageTimedOut, types.StageSkipped:
				st.State = types.StageSkipped
				st.Error = fmt.Sprintf("dependency %s did not succeed", dep)
				t := now
				st.FinishedAt = &t
			}
			if st.State == types.StageSkipped {
				break
			}
		}
	}
}

// applyCancelled records an in-flight stage interrupted by cancellation.
func (c *Coordinator) applyCancelled(r *run, d stageDone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state.StageByName(d.name)
	if st == nil || lifecycle.StageTerminal(st.State) {
		return
	}
	now := time.Now().UTC()
	st.State = types.StageSkipped
	st.Attempts = d.res.Attempts
	st.Error = "run cancelled"
	st.FinishedAt = &now
}

// finish fixes the run outcome, writes the ledger entry, and logs the result.
// Transient record failures get one retry; conflicts never do.
func (c *Coordinator) finish(ctx context.Context, r *run) types.Run {
	r.mu.Lock()
	now := time.Now().UTC()
	cancelled := r.ctx.Err() != nil
	outcome := types.RunSucceeded
	if cancelled {
		outcome = types.RunCancelled
	}
	for _, st := range r.state.Stages {
		if !lifecycle.StageTerminal(st.State) {
			st.State = types.StageSkipped
			st.Error = "run cancelled"
			t := now
			st.FinishedAt = &t
		}
		if !cancelled && st.State != types.StageSucceeded {
			outcome = types.RunFailed
		}
	}
	r.state.Outcome = outcome
	r.state.CompletedAt = &now
	final := r.state.Clone()
	r.mu.Unlock()

	if c.store != nil {
		entry := types.EntryFromRun(final)
		err := c.record(entry)
		if err != nil && !errors.Is(err, ledger.ErrConflict) {
			err = c.record(entry)
		}
		if err != nil {
			c.metrics.RecordFailure(ctx, final.Pipeline)
			c.logger.Error("ledger record failed",
				"run", final.ID, "pipeline", final.Pipeline, "error", err)
		}
	}

	c.metrics.RunCompleted(ctx, final.Pipeline, outcome, now.Sub(final.CreatedAt).Seconds())
	c.logger.Info("run completed",
		"run", final.ID, "pipeline", final.Pipeline,
		"outcome", outcome, "elapsed", now.Sub(final.CreatedAt).Round(time.Millisecond))
	return final
}

// record writes one ledger entry with its own deadline. The run context is
// not used: a cancelled run still gets recorded.
func (c *Coordinator) record(entry types.LedgerEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.store.Record(ctx, entry)
}
