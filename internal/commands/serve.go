package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/armugharaj/full-stack-devops-automation/internal/bridge"
	"github.com/armugharaj/full-stack-devops-automation/internal/config"
	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/internal/server"
	"github.com/armugharaj/full-stack-devops-automation/internal/sink"
	"github.com/armugharaj/full-stack-devops-automation/internal/telemetry"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Conveyor API server and run coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()
	ctx := context.Background()

	// Telemetry
	tcfg := types.TelemetryConfig{}
	if cfg.Telemetry != nil {
		tcfg = *cfg.Telemetry
	}
	tel, err := telemetry.Init(ctx, tcfg, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	// Ledger
	store, err := ledger.Open(*cfg, logger)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("connecting to ledger: %w", err)
	}

	// Pipelines
	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	// Coordinator
	runner, err := buildExecutor(cfg, logger, tel.Metrics)
	if err != nil {
		return err
	}
	opts := append(coordinatorOptions(cfg.Engine), coordinator.WithMetrics(tel.Metrics))
	coord := coordinator.New(runner, store, logger, opts...)

	// Sinks
	dispatcher, err := sink.NewDispatcher(cfg.Sinks, logger)
	if err != nil {
		return fmt.Errorf("creating sink dispatcher: %w", err)
	}
	coord.OnRunCompleted(dispatcher.RunListener())

	// Bridge: ci success hands the artifact to the downstream cd pipeline.
	br := bridge.New(coord, cat, logger, bridge.WithMetrics(tel.Metrics))
	coord.OnRunCompleted(br.Listener())

	// Server
	scfg := types.ServerConfig{}
	if cfg.Server != nil {
		scfg = *cfg.Server
	}
	if scfg.Addr == "" {
		scfg.Addr = ":3000"
	}
	srv := server.New(scfg, coord, cat, store, logger)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := coord.Stop(shutdownCtx); err != nil {
			logger.Warn("run drain incomplete", "error", err)
		}
		_ = store.Stop(shutdownCtx)
		_ = tel.Shutdown(shutdownCtx)
		color.Green("Server stopped gracefully")
		return nil
	}
}
