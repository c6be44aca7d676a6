package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/armugharaj/full-stack-devops-automation/internal/config"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the project config and pipeline definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

func runValidate() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	color.Green("  ✓ %s", config.FileName)

	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	defs := cat.List()
	if len(defs) == 0 {
		color.Yellow("  ⚠ no pipelines found in %v", cfg.PipelineDirs)
		return nil
	}

	for _, def := range defs {
		link := ""
		if def.Downstream != "" {
			link = " -> " + def.Downstream
		}
		color.Green("  ✓ %s (%s, %d stages)%s", def.Name, def.Kind, len(def.Stages), link)
	}
	fmt.Printf("\n%d pipelines valid\n", len(defs))
	return nil
}
