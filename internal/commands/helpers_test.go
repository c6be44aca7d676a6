package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/armugharaj/full-stack-devops-automation/internal/catalog"
	"github.com/armugharaj/full-stack-devops-automation/internal/config"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const validPipeline = `name: build-api
kind: ci
stages:
  - name: compile
    class: build
    action:
      type: command
      command: "make build"
`

func TestBuildCatalog_Valid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "build-api.yaml"), []byte(validPipeline), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := buildCatalog(&types.ProjectConfig{PipelineDirs: []string{dir}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defs := cat.List()
	if len(defs) != 1 {
		t.Fatalf("expected 1 pipeline, got %d", len(defs))
	}
	if defs[0].Name != "build-api" {
		t.Errorf("expected name 'build-api', got %q", defs[0].Name)
	}
}

func TestBuildCatalog_MissingDir(t *testing.T) {
	cfg := &types.ProjectConfig{PipelineDirs: []string{"/nonexistent/path/xyzzy"}}
	if _, err := buildCatalog(cfg); err == nil {
		t.Fatal("expected error for missing pipeline dir")
	}
}

func TestBuildCatalog_DanglingDownstream(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`name: build-api
kind: ci
downstream: deploy-api
stages:
  - name: compile
    class: build
    action:
      type: command
      command: "make build"
`)
	if err := os.WriteFile(filepath.Join(dir, "build-api.yaml"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := buildCatalog(&types.ProjectConfig{PipelineDirs: []string{dir}}); err == nil {
		t.Fatal("expected error for downstream pointing at a missing pipeline")
	}
}

func TestNewRegistry_None(t *testing.T) {
	reg, err := newRegistry(&types.ProjectConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg != nil {
		t.Fatal("expected nil registry when config has no registry section")
	}
}

func TestNewRegistry_HTTP(t *testing.T) {
	cfg := &types.ProjectConfig{
		Registry: &types.RegistryConfig{Type: "http", URL: "http://localhost:5000"},
	}
	reg, err := newRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestNewRegistry_Unsupported(t *testing.T) {
	cfg := &types.ProjectConfig{Registry: &types.RegistryConfig{Type: "ftp"}}
	if _, err := newRegistry(cfg, nil); err == nil {
		t.Fatal("expected error for unsupported registry type")
	}
}

func TestBuildExecutor_Minimal(t *testing.T) {
	runner, err := buildExecutor(&types.ProjectConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner == nil {
		t.Fatal("expected non-nil executor")
	}
}

func TestExecutorOptions(t *testing.T) {
	if opts := executorOptions(nil); opts != nil {
		t.Fatalf("expected no options for nil engine config, got %d", len(opts))
	}

	ec := &types.EngineConfig{
		DefaultStageTimeout: "90s",
		RetryBaseDelay:      "1s",
		RetryMaxDelay:       "10s",
	}
	if opts := executorOptions(ec); len(opts) != 2 {
		t.Fatalf("expected 2 options, got %d", len(opts))
	}

	// A single retry bound still produces the retry option.
	if opts := executorOptions(&types.EngineConfig{RetryBaseDelay: "1s"}); len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
}

func TestCoordinatorOptions(t *testing.T) {
	if opts := coordinatorOptions(nil); len(opts) != 0 {
		t.Fatalf("expected no options for nil engine config, got %d", len(opts))
	}
	if opts := coordinatorOptions(&types.EngineConfig{MaxParallel: 8}); len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
}

func TestParseDur(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"nonsense", 0},
		{"-5s", 0},
		{"30s", 30 * time.Second},
	}
	for _, tc := range cases {
		if got := parseDur(tc.in); got != tc.want {
			t.Errorf("parseDur(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRunInit_Scaffold(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")

	if err := runInit(dir, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("scaffolded config does not load: %v", err)
	}
	if cfg.Ledger != "memory" {
		t.Errorf("expected memory ledger, got %q", cfg.Ledger)
	}

	// The scaffolded pipelines must pass the same validation serve applies.
	cat := catalog.New()
	if err := cat.LoadDir(filepath.Join(dir, "pipelines")); err != nil {
		t.Fatalf("loading scaffolded pipelines: %v", err)
	}
	if err := cat.Validate(); err != nil {
		t.Fatalf("scaffolded pipelines invalid: %v", err)
	}
	if got := len(cat.List()); got != 2 {
		t.Fatalf("expected 2 example pipelines, got %d", got)
	}
	def, ok := cat.Get("build-app")
	if !ok {
		t.Fatal("expected build-app pipeline")
	}
	if def.Kind != types.KindCI {
		t.Errorf("expected ci kind, got %q", def.Kind)
	}
}
