// Package health verifies post-deploy workload readiness.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/armugharaj/full-stack-devops-automation/internal/clock"
	"github.com/armugharaj/full-stack-devops-automation/internal/platform"
	"github.com/armugharaj/full-stack-devops-automation/internal/telemetry"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Gate defaults; zero fields on a policy fall back to these. The default
// bound works out to a five minute verification window.
const (
	DefaultInterval         = 5 * time.Second
	DefaultMaxAttempts      = 60
	DefaultSuccessThreshold = 2
)

// Result is the verdict of one verification.
type Result struct {
	Status  types.HealthStatus
	Polls   int
	Last    platform.WorkloadStatus
	LastErr string
	Elapsed time.Duration
}

// Gate polls the deployment platform until a workload proves healthy or the
// attempt budget runs out.
type Gate struct {
	platform platform.Platform
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics attaches engine instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New creates a health gate.
func New(p platform.Platform, clk clock.Clock, logger *slog.Logger, opts ...Option) *Gate {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{platform: p, clock: clk, logger: logger.With("component", "health")}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify polls Status for the policy selector (ref when the policy has none)
// until SuccessThreshold consecutive healthy observations, or until
// MaxAttempts polls have been spent. Errored polls reset the consecutive
// counter but never abort the gate.
func (g *Gate) Verify(ctx context.Context, policy types.HealthCheckPolicy, ref string) Result {
	interval := policy.IntervalDuration(DefaultInterval)
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	threshold := policy.SuccessThreshold
	if threshold <= 0 {
		threshold = DefaultSuccessThreshold
	}
	selector := policy.Selector
	if selector == "" {
		selector = ref
	}

	start := g.clock.Now()
	res := Result{Status: types.Unhealthy}
	consecutive := 0

loop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.LastErr = err.Error()
			break
		}

		st, err := g.platform.Status(ctx, selector)
		res.Polls = attempt
		if err != nil {
			consecutive = 0
			res.LastErr = err.Error()
			g.logger.Debug("health poll errored", "selector", selector, "attempt", attempt, "error", err)
		} else {
			res.Last = st
			res.LastErr = st.LastError
			if st.Ready() {
				consecutive++
			} else {
				consecutive = 0
			}
			g.logger.Debug("health poll",
				"selector", selector,
				"attempt", attempt,
				"ready", st.ReadyReplicas,
				"desired", st.DesiredReplicas,
				"consecutive", consecutive,
			)
		}
		g.metrics.HealthPoll(ctx, selector, err == nil && st.Ready())

		if consecutive >= threshold {
			res.Status = types.Healthy
			break
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			res.LastErr = ctx.Err().Error()
			break loop
		case <-g.clock.After(interval):
		}
	}

	res.Elapsed = g.clock.Now().Sub(start)
	if res.Status == types.Healthy {
		g.logger.Info("workload healthy", "selector", selector, "polls", res.Polls, "elapsed", res.Elapsed)
	} else {
		g.logger.Warn("workload unhealthy",
			"selector", selector,
			"polls", res.Polls,
			"lastError", res.LastErr,
			"ready", res.Last.ReadyReplicas,
			"desired", res.Last.DesiredReplicas,
		)
	}
	return res
}
