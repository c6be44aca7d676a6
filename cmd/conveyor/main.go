package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/armugharaj/full-stack-devops-automation/internal/commands"
)

var version = "dev"

func main() {
	// Load .env file if it exists (ignore errors if it doesn't)
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Continuous delivery orchestration engine",
		Long: `Conveyor runs ci and cd pipelines as dependency-ordered stage graphs.
A successful ci run publishes exactly one artifact and hands it to its
downstream cd pipeline; every completed run lands in a durable ledger
that the CLI and the HTTP API query.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewValidateCmd(),
		commands.NewRunCmd(),
		commands.NewStatusCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
