package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/armugharaj/full-stack-devops-automation/internal/catalog"
	"github.com/armugharaj/full-stack-devops-automation/internal/config"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const statusRunCount = 5

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var pipelineName string

	cmd := &cobra.Command{
		Use:   "status [pipeline-name]",
		Short: "Show pipeline outcomes recorded in the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				pipelineName = args[0]
			}
			return runStatus(pipelineName)
		},
	}
	return cmd
}

func runStatus(pipelineName string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	store, err := ledger.Open(*cfg, nil)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("connecting to ledger: %w", err)
	}
	defer func() { _ = store.Stop(ctx) }()

	if pipelineName != "" {
		return showPipelineStatus(ctx, store, cat, pipelineName)
	}
	return showAllPipelines(ctx, store, cat)
}

func showAllPipelines(ctx context.Context, store ledger.Store, cat *catalog.Catalog) error {
	defs := cat.List()
	if len(defs) == 0 {
		fmt.Println("No pipelines found.")
		return nil
	}

	bold := color.New(color.Bold)
	_, _ = bold.Println("Pipelines:")
	fmt.Println()

	for _, def := range defs {
		latest, err := recentEntries(ctx, store, def.Name, 1)
		if err != nil {
			return fmt.Errorf("listing runs for %s: %w", def.Name, err)
		}
		outcome := color.YellowString("NEVER RUN")
		if len(latest) > 0 {
			outcome = outcomeString(latest[0].Outcome)
		}
		fmt.Printf("  %-30s %-15s kind=%-3s stages=%d\n",
			def.Name, outcome, def.Kind, len(def.Stages))
	}
	fmt.Println()
	return nil
}

func showPipelineStatus(ctx context.Context, store ledger.Store, cat *catalog.Catalog, name string) error {
	def, ok := cat.Get(name)
	if !ok {
		return fmt.Errorf("pipeline %q not found", name)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Pipeline: %s\n", def.Name)
	fmt.Printf("  Kind:    %s\n", def.Kind)
	if def.Version != "" {
		fmt.Printf("  Version: %s\n", def.Version)
	}
	if def.Downstream != "" {
		fmt.Printf("  Downstream: %s\n", def.Downstream)
	}
	fmt.Printf("  Stages:  %d\n", len(def.Stages))

	entries, err := recentEntries(ctx, store, name, statusRunCount)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("\nNo recorded runs.")
		return nil
	}

	fmt.Println()
	_, _ = bold.Println("  Recent Runs:")
	for _, e := range entries {
		fmt.Printf("    %s  %-15s %s  triggered by %s\n",
			e.RunID, outcomeString(e.Outcome),
			e.CompletedAt.Format(time.RFC3339), e.Context.TriggeredBy)
	}
	fmt.Println()
	return nil
}

// recentEntries returns up to n entries for a pipeline, newest first. The
// ledger lists oldest first, so take the tail and flip it.
func recentEntries(ctx context.Context, store ledger.Store, pipeline string, n int) ([]types.LedgerEntry, error) {
	entries, err := store.List(ctx, ledger.Query{Pipeline: pipeline})
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func outcomeString(o types.RunOutcome) string {
	switch o {
	case types.RunSucceeded:
		return color.GreenString(string(o))
	case types.RunFailed:
		return color.RedString(string(o))
	case types.RunCancelled:
		return color.YellowString(string(o))
	default:
		return string(o)
	}
}
