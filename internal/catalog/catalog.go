// Package catalog loads, validates, and resolves pipeline definitions.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/armugharaj/full-stack-devops-automation/internal/dag"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Catalog holds pipeline definitions loaded from YAML files. Definitions are
// loaded before serving traffic and read-only afterwards.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]types.PipelineDefinition
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{defs: make(map[string]types.PipelineDefinition)}
}

// LoadDir loads every YAML pipeline file from a directory.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading pipeline dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if err := c.LoadFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads a single pipeline YAML file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	var def types.PipelineDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.Register(def); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Register validates a definition and adds it to the catalog. An unset kind
// defaults to ci.
func (c *Catalog) Register(def types.PipelineDefinition) error {
	if def.Kind == "" {
		def.Kind = types.KindCI
	}
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Name]; exists {
		return fmt.Errorf("pipeline %q registered twice", def.Name)
	}
	c.defs[def.Name] = def
	return nil
}

// Get returns a pipeline definition by name.
func (c *Catalog) Get(name string) (types.PipelineDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[name]
	return def, ok
}

// List returns all definitions sorted by name.
func (c *Catalog) List() []types.PipelineDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.PipelineDefinition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks cross-pipeline links after all definitions are loaded.
func (c *Catalog) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, def := range c.defs {
		if def.Downstream == "" {
			continue
		}
		if def.Kind != types.KindCI {
			return fmt.Errorf("pipeline %s: only ci pipelines may declare a downstream", def.Name)
		}
		if def.Downstream == def.Name {
			return fmt.Errorf("pipeline %s: downstream references itself", def.Name)
		}
		target, ok := c.defs[def.Downstream]
		if !ok {
			return fmt.Errorf("pipeline %s: downstream %q not found", def.Name, def.Downstream)
		}
		if target.Kind != types.KindCD {
			return fmt.Errorf("pipeline %s: downstream %q is not a cd pipeline", def.Name, def.Downstream)
		}
	}
	return nil
}

// ValidateDefinition checks one definition in isolation: naming, kind, an
// acyclic stage graph, and per-stage action completeness.
func ValidateDefinition(def types.PipelineDefinition) error {
	if def.Name == "" {
		return errors.New("pipeline has no name")
	}
	switch def.Kind {
	case types.KindCI, types.KindCD:
	default:
		return fmt.Errorf("pipeline %s: unknown kind %q", def.Name, def.Kind)
	}
	if _, err := dag.Build(def.Stages); err != nil {
		return fmt.Errorf("pipeline %s: %w", def.Name, err)
	}
	for _, s := range def.Stages {
		if err := validateStage(s); err != nil {
			return fmt.Errorf("pipeline %s, stage %s: %w", def.Name, s.Name, err)
		}
	}
	return nil
}

func validateStage(s types.StageSpec) error {
	if s.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("bad timeout %q: %w", s.Timeout, err)
		}
	}
	switch s.Action.Type {
	case types.ActionCommand:
		if s.Action.Command == "" {
			return errors.New("command action needs a command")
		}
	case types.ActionHTTP:
		if s.Action.URL == "" {
			return errors.New("http action needs a url")
		}
	case types.ActionPublish:
		if s.Action.Artifact == nil || s.Action.Artifact.Name == "" {
			return errors.New("publish action needs an artifact name")
		}
	case types.ActionApply:
		if s.Action.Workload == nil || s.Action.Workload.Name == "" {
			return errors.New("apply action needs a workload name")
		}
		if s.Action.Workload.Image == "" {
			return errors.New("apply action needs a workload image")
		}
	case types.ActionVerify:
		if s.Action.Health == nil || s.Action.Health.Selector == "" {
			return errors.New("verify action needs a health selector")
		}
		if s.Action.Health != nil && s.Action.Health.Interval != "" {
			if _, err := time.ParseDuration(s.Action.Health.Interval); err != nil {
				return fmt.Errorf("bad health interval %q: %w", s.Action.Health.Interval, err)
			}
		}
	case "":
		return errors.New("stage has no action type")
	default:
		return fmt.Errorf("unknown action type %q", s.Action.Type)
	}
	return nil
}
