// Package commands implements the CLI subcommands for the conveyor binary.
package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/armugharaj/full-stack-devops-automation/internal/catalog"
	"github.com/armugharaj/full-stack-devops-automation/internal/clock"
	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/executor"
	"github.com/armugharaj/full-stack-devops-automation/internal/health"
	"github.com/armugharaj/full-stack-devops-automation/internal/platform"
	"github.com/armugharaj/full-stack-devops-automation/internal/registry"
	"github.com/armugharaj/full-stack-devops-automation/internal/telemetry"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// buildCatalog loads pipeline definitions from every configured directory
// and validates cross-pipeline links.
func buildCatalog(cfg *types.ProjectConfig) (*catalog.Catalog, error) {
	cat := catalog.New()
	for _, dir := range cfg.PipelineDirs {
		if err := cat.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// newRegistry creates the configured artifact registry, or nil when the
// config has no registry section.
func newRegistry(cfg *types.ProjectConfig, logger *slog.Logger) (registry.Registry, error) {
	if cfg.Registry == nil {
		return nil, nil
	}
	switch cfg.Registry.Type {
	case "", "http":
		return registry.NewClient(*cfg.Registry, logger), nil
	case "minio":
		store, err := registry.NewMinio(*cfg.Registry, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported registry type: %s", cfg.Registry.Type)
	}
}

// buildExecutor wires a stage executor from the config. The registry,
// platform and health gate stay nil when their sections are absent; stages
// that need a missing one fail with a configuration error.
func buildExecutor(cfg *types.ProjectConfig, logger *slog.Logger, m *telemetry.Metrics) (*executor.Executor, error) {
	reg, err := newRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	var plat platform.Platform
	var gate *health.Gate
	if cfg.Platform != nil {
		client := platform.NewClient(*cfg.Platform, logger)
		plat = client
		gate = health.New(client, clock.System(), logger, health.WithMetrics(m))
	}

	return executor.New(reg, plat, gate, logger, executorOptions(cfg.Engine)...), nil
}

// executorOptions maps engine settings onto executor options. Durations were
// already validated at config load.
func executorOptions(ec *types.EngineConfig) []executor.Option {
	if ec == nil {
		return nil
	}
	var opts []executor.Option
	if d := parseDur(ec.DefaultStageTimeout); d > 0 {
		opts = append(opts, executor.WithDefaultTimeout(d))
	}
	if base, ceil := parseDur(ec.RetryBaseDelay), parseDur(ec.RetryMaxDelay); base > 0 || ceil > 0 {
		opts = append(opts, executor.WithRetryDelays(base, ceil))
	}
	return opts
}

// coordinatorOptions maps engine settings onto coordinator options.
func coordinatorOptions(ec *types.EngineConfig) []coordinator.Option {
	var opts []coordinator.Option
	if ec != nil && ec.MaxParallel > 0 {
		opts = append(opts, coordinator.WithMaxParallel(ec.MaxParallel))
	}
	return opts
}

// parseDur returns 0 for empty or malformed duration strings.
func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
