package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/armugharaj/full-stack-devops-automation/internal/bridge"
	"github.com/armugharaj/full-stack-devops-automation/internal/config"
	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const runTimeout = 5 * time.Minute

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var commit string

	cmd := &cobra.Command{
		Use:   "run [pipeline-name]",
		Short: "Execute a pipeline and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(args[0], commit)
		},
	}

	cmd.Flags().StringVar(&commit, "commit", "", "Commit the run builds from")
	return cmd
}

func runPipeline(pipelineName, commit string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}
	def, ok := cat.Get(pipelineName)
	if !ok {
		return fmt.Errorf("pipeline %q not found", pipelineName)
	}

	store, err := ledger.Open(*cfg, nil)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("connecting to ledger: %w", err)
	}
	defer func() { _ = store.Stop(context.Background()) }()

	runner, err := buildExecutor(cfg, nil, nil)
	if err != nil {
		return err
	}
	coord := coordinator.New(runner, store, nil, coordinatorOptions(cfg.Engine)...)

	// Collect every finished run: a successful ci run hands off to its
	// downstream cd pipeline, and that run should be reported too.
	var mu sync.Mutex
	var finished []types.Run
	coord.OnRunCompleted(func(r types.Run) {
		mu.Lock()
		finished = append(finished, r)
		mu.Unlock()
	})
	coord.OnRunCompleted(bridge.New(coord, cat, nil).Listener())

	h, err := coord.Start(ctx, def, types.RunContext{Commit: commit, TriggeredBy: "manual"})
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	color.Cyan("Running pipeline %s (run: %s)...", pipelineName, h.RunID)

	if _, err := h.Wait(ctx); err != nil {
		h.Cancel()
		_ = coord.Stop(context.Background())
		return fmt.Errorf("run %s did not finish: %w", h.RunID, err)
	}

	// Drain any downstream run the bridge started.
	if err := coord.Stop(ctx); err != nil {
		return fmt.Errorf("waiting for downstream runs: %w", err)
	}

	mu.Lock()
	results := append([]types.Run(nil), finished...)
	mu.Unlock()

	succeeded := true
	for _, r := range results {
		printRunResult(r)
		if r.Outcome != types.RunSucceeded {
			succeeded = false
		}
	}
	if !succeeded {
		return fmt.Errorf("pipeline %s did not succeed", pipelineName)
	}
	return nil
}

func printRunResult(run types.Run) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("\nRun %s  (%s, %s)\n", run.ID, run.Pipeline, run.Kind)

	switch run.Outcome {
	case types.RunSucceeded:
		color.Green("Outcome: SUCCEEDED ✓")
	case types.RunCancelled:
		color.Yellow("Outcome: CANCELLED")
	default:
		color.Red("Outcome: %s ✗", run.Outcome)
	}

	fmt.Println("Stages:")
	for _, st := range run.Stages {
		dur := ""
		if st.StartedAt != nil && st.FinishedAt != nil {
			dur = st.FinishedAt.Sub(*st.StartedAt).Round(time.Millisecond).String()
		}
		switch st.State {
		case types.StageSucceeded:
			color.Green("  ✓ %-20s %s", st.Name, dur)
		case types.StageFailed:
			color.Red("  ✗ %-20s %s", st.Name, st.Error)
		case types.StageTimedOut:
			color.Red("  ✗ %-20s timed out after %d attempts", st.Name, st.Attempts)
		case types.StageSkipped:
			color.Yellow("  ○ %-20s skipped", st.Name)
		default:
			fmt.Printf("  ? %-20s %s\n", st.Name, st.State)
		}
	}
}
