// Package executor runs individual pipeline stages to a terminal result.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/armugharaj/full-stack-devops-automation/internal/clock"
	"github.com/armugharaj/full-stack-devops-automation/internal/health"
	"github.com/armugharaj/full-stack-devops-automation/internal/platform"
	"github.com/armugharaj/full-stack-devops-automation/internal/registry"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// DefaultTimeout bounds a stage attempt when the spec carries no timeout.
const DefaultTimeout = 10 * time.Minute

// Captured stage output is bounded; anything past this is cut.
const maxOutputBytes = 64 << 10

// Executor runs one stage at a time. It owns timeout enforcement, retry
// with backoff, and action dispatch; run-level sequencing belongs to the
// coordinator.
type Executor struct {
	registry registry.Registry
	platform platform.Platform
	gate     *health.Gate
	clock    clock.Clock
	logger   *slog.Logger
	httpc    *http.Client

	defaultTimeout time.Duration
	baseDelay      time.Duration
	maxDelay       time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClock substitutes the time source.
func WithClock(clk clock.Clock) Option {
	return func(e *Executor) { e.clock = clk }
}

// WithHTTPClient substitutes the client used by http actions.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpc = c }
}

// WithDefaultTimeout overrides the per-attempt timeout fallback.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithRetryDelays overrides the backoff base and cap.
func WithRetryDelays(base, max time.Duration) Option {
	return func(e *Executor) {
		if base > 0 {
			e.baseDelay = base
		}
		if max > 0 {
			e.maxDelay = max
		}
	}
}

// New creates an Executor. Registry, platform and gate may be nil; stages
// needing a missing dependency fail with a configuration error.
func New(reg registry.Registry, plat platform.Platform, gate *health.Gate, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		registry:       reg,
		platform:       plat,
		gate:           gate,
		clock:          clock.System(),
		logger:         logger.With("component", "executor"),
		httpc:          &http.Client{Timeout: 30 * time.Second},
		defaultTimeout: DefaultTimeout,
		baseDelay:      defaultBaseDelay,
		maxDelay:       defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the stage until it succeeds or its retry budget is spent.
// Each attempt gets a fresh timeout; only the final attempt's terminal state
// is reported, with Attempts counting every try. Context cancellation stops
// retrying immediately.
func (e *Executor) Execute(ctx context.Context, spec types.StageSpec, rc types.RunContext) types.StageResult {
	timeout := spec.TimeoutDuration(e.defaultTimeout)
	attempts := spec.Retries + 1

	var res types.StageResult
	for attempt := 1; attempt <= attempts; attempt++ {
		res = e.attempt(ctx, spec, rc, timeout)
		res.Attempts = attempt

		if res.State == types.StageSucceeded || ctx.Err() != nil {
			break
		}
		if attempt == attempts {
			break
		}

		delay := Backoff(e.baseDelay, e.maxDelay, attempt)
		e.logger.Debug("stage retry scheduled",
			"stage", spec.Name,
			"attempt", attempt,
			"state", res.State,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			return res
		case <-e.clock.After(delay):
		}
	}
	return res
}

func (e *Executor) attempt(ctx context.Context, spec types.StageSpec, rc types.RunContext, timeout time.Duration) types.StageResult {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res types.StageResult
	switch spec.Action.Type {
	case types.ActionCommand:
		res = e.runCommand(actx, spec.Action, rc)
	case types.ActionHTTP:
		res = e.runHTTP(actx, spec.Action, rc)
	case types.ActionPublish:
		res = e.runPublish(actx, spec.Action, rc)
	case types.ActionApply:
		res = e.runApply(actx, spec.Action, rc)
	case types.ActionVerify:
		res = e.runVerify(actx, spec.Action)
	default:
		res = types.StageResult{
			State: types.StageFailed,
			Error: fmt.Sprintf("unsupported action type %q", spec.Action.Type),
		}
	}

	if res.State != types.StageSucceeded && actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		res.State = types.StageTimedOut
		res.Error = fmt.Sprintf("stage exceeded %s timeout", timeout)
	}
	return res
}

func (e *Executor) runCommand(ctx context.Context, action types.ActionSpec, rc types.RunContext) types.StageResult {
	cmd := exec.CommandContext(ctx, "sh", "-c", rc.Expand(action.Command))
	cmd.Env = append(os.Environ(), "COMMIT="+rc.Commit)
	if rc.Artifact != nil {
		cmd.Env = append(cmd.Env,
			"ARTIFACT_NAME="+rc.Artifact.Name,
			"ARTIFACT_VERSION="+rc.Artifact.Version,
		)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := types.StageResult{Output: truncate(out.String())}
	if err != nil {
		res.State = types.StageFailed
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Error = fmt.Sprintf("command exited with code %d", exitErr.ExitCode())
		} else {
			res.Error = err.Error()
		}
		return res
	}
	res.State = types.StageSucceeded
	return res
}

func (e *Executor) runHTTP(ctx context.Context, action types.ActionSpec, rc types.RunContext) types.StageResult {
	method := action.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if action.Body != "" {
		body = strings.NewReader(rc.Expand(action.Body))
	}

	req, err := http.NewRequestWithContext(ctx, method, rc.Expand(action.URL), body)
	if err != nil {
		return types.StageResult{State: types.StageFailed, Error: err.Error()}
	}
	for k, v := range action.Headers {
		req.Header.Set(k, rc.Expand(v))
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return types.StageResult{State: types.StageFailed, Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	res := types.StageResult{Output: truncate(string(raw))}
	if resp.StatusCode >= 400 {
		res.State = types.StageFailed
		res.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		return res
	}
	res.State = types.StageSucceeded
	return res
}

func (e *Executor) runPublish(ctx context.Context, action types.ActionSpec, rc types.RunContext) types.StageResult {
	if e.registry == nil {
		return types.StageResult{State: types.StageFailed, Error: "no artifact registry configured"}
	}
	if action.Artifact == nil {
		return types.StageResult{State: types.StageFailed, Error: "publish stage requires an artifact"}
	}

	version := rc.Expand(action.Artifact.Version)
	if version == "" {
		version = rc.Commit
	}
	if version == "" {
		return types.StageResult{State: types.StageFailed, Error: "artifact version unresolved"}
	}

	ref, err := e.registry.Publish(ctx, action.Artifact.Name, version, rc.Expand(action.Artifact.Path))
	if err != nil {
		var rejected *registry.RejectedError
		if errors.As(err, &rejected) {
			return types.StageResult{State: types.StageFailed, Error: rejected.Error()}
		}
		return types.StageResult{State: types.StageFailed, Error: err.Error()}
	}
	return types.StageResult{
		State:    types.StageSucceeded,
		Output:   "published " + ref.String(),
		Artifact: &ref,
	}
}

func (e *Executor) runApply(ctx context.Context, action types.ActionSpec, rc types.RunContext) types.StageResult {
	if e.platform == nil {
		return types.StageResult{State: types.StageFailed, Error: "no deployment platform configured"}
	}
	if action.Workload == nil {
		return types.StageResult{State: types.StageFailed, Error: "apply stage requires a workload"}
	}

	w := *action.Workload
	w.Image = rc.Expand(w.Image)
	if len(w.Env) > 0 {
		env := make(map[string]string, len(w.Env))
		for k, v := range w.Env {
			env[k] = rc.Expand(v)
		}
		w.Env = env
	}

	if err := e.platform.Apply(ctx, w); err != nil {
		var rejected *platform.RejectedError
		if errors.As(err, &rejected) {
			return types.StageResult{State: types.StageFailed, Error: rejected.Error()}
		}
		return types.StageResult{State: types.StageFailed, Error: err.Error()}
	}
	return types.StageResult{
		State:  types.StageSucceeded,
		Output: "applied workload " + w.Name,
	}
}

func (e *Executor) runVerify(ctx context.Context, action types.ActionSpec) types.StageResult {
	if e.gate == nil {
		return types.StageResult{State: types.StageFailed, Error: "no deployment platform configured"}
	}
	var policy types.HealthCheckPolicy
	if action.Health != nil {
		policy = *action.Health
	}
	if policy.Selector == "" {
		return types.StageResult{State: types.StageFailed, Error: "verify stage requires a health selector"}
	}

	res := e.gate.Verify(ctx, policy, policy.Selector)
	if res.Status == types.Healthy {
		return types.StageResult{
			State:  types.StageSucceeded,
			Output: fmt.Sprintf("healthy after %d polls", res.Polls),
		}
	}
	return types.StageResult{
		State: types.StageFailed,
		Error: fmt.Sprintf("unhealthy after %d polls: %s", res.Polls, res.LastErr),
	}
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... output truncated"
}
