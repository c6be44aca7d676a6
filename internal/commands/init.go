package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/armugharaj/full-stack-devops-automation/internal/config"
)

const initValkeyTimeout = 60 * time.Second

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var withRedis bool

	cmd := &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new Conveyor project",
		Long:  "Creates project scaffolding with example ci and cd pipelines, and optionally starts a local Valkey container for the Redis ledger.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], withRedis)
		},
	}

	cmd.Flags().BoolVar(&withRedis, "redis", false, "Use the Redis ledger and start a local Valkey container")
	return cmd
}

func runInit(projectName string, withRedis bool) error {
	bold := color.New(color.Bold)

	_, _ = bold.Printf("Initializing Conveyor project: %s\n", projectName)

	pipelineDir := filepath.Join(projectName, "pipelines")
	if err := os.MkdirAll(pipelineDir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", pipelineDir, err)
	}

	ledgerSection := "ledger: memory\n"
	if withRedis {
		ledgerSection = `ledger: redis
redis:
  addr: localhost:6379
  keyPrefix: "conveyor:"
`
	}
	configContent := ledgerSection + `server:
  addr: ":3000"
pipelineDirs:
  - ./pipelines
sinks:
  - type: console
`
	configPath := filepath.Join(projectName, config.FileName)
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if err := writeExamplePipelines(pipelineDir); err != nil {
		return fmt.Errorf("writing example pipelines: %w", err)
	}

	color.Green("  ✓ Project scaffolded")

	if withRedis {
		if err := startValkey(); err != nil {
			color.Yellow("  ⚠ Valkey setup skipped: %v", err)
			color.Yellow("    Run manually: docker run -d --name conveyor-valkey -p 6379:6379 valkey/valkey:8")
		} else {
			color.Green("  ✓ Valkey container started")
		}
	}

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  conveyor validate")
	fmt.Println("  conveyor run build-app")
	fmt.Println("  conveyor serve")
	return nil
}

func startValkey() error {
	// Check Docker availability
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	// Check if container already exists
	checkCmd := exec.Command("docker", "inspect", "conveyor-valkey")
	if checkCmd.Run() == nil {
		// Container exists, try starting it
		startCmd := exec.Command("docker", "start", "conveyor-valkey")
		if err := startCmd.Run(); err != nil {
			return fmt.Errorf("starting existing container: %w", err)
		}
		return nil
	}

	// Create and start new container
	ctx, cancel := context.WithTimeout(context.Background(), initValkeyTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", "conveyor-valkey",
		"-p", "6379:6379",
		"valkey/valkey:8",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

func writeExamplePipelines(dir string) error {
	pipelines := map[string]string{
		"build-app.yaml": `name: build-app
version: "1"
kind: ci
# Uncomment to hand successful builds to the delivery pipeline. The handoff
# needs exactly one publish stage, which in turn needs a registry section
# in conveyor.yaml.
# downstream: deploy-app
stages:
  - name: checkout
    class: build
    action:
      type: command
      command: "echo checking out ${commit}"
  - name: test
    class: test
    dependsOn: [checkout]
    action:
      type: command
      command: "echo tests passed"
  # - name: publish
  #   class: publish
  #   dependsOn: [test]
  #   action:
  #     type: publish
  #     artifact:
  #       name: app
  #       version: "${commit}"
`,
		"deploy-app.yaml": `name: deploy-app
version: "1"
kind: cd
stages:
  - name: deploy
    class: deploy
    action:
      type: command
      command: "echo deploying ${artifact.name}:${artifact.version}"
  - name: smoke
    class: verify
    dependsOn: [deploy]
    action:
      type: command
      command: "echo smoke checks passed"
`,
	}

	for name, content := range pipelines {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
