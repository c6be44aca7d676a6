// Package dag validates stage dependency graphs and derives execution order.
package dag

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Validation failures. Callers match with errors.Is.
var (
	ErrUnnamedStage      = errors.New("stage without a name")
	ErrDuplicateStage    = errors.New("duplicate stage name")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycle             = errors.New("dependency cycle")
)

// Graph is a validated stage dependency graph with a precomputed
// topological order. Build once per run start.
type Graph struct {
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

// Build validates the stage list and returns its graph. The topological
// order is deterministic: ties resolve in definition order (Kahn's
// algorithm seeded and drained in declaration order).
func Build(stages []types.StageSpec) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(stages)),
		dependents: make(map[string][]string),
	}
	indegree := make(map[string]int, len(stages))

	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: stage at index %d", ErrUnnamedStage, i)
		}
		if _, dup := g.deps[s.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name)
		}
		g.deps[s.Name] = s.DependsOn
		indegree[s.Name] = 0
	}

	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("%w: stage %s depends on %s", ErrUnknownDependency, s.Name, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], s.Name)
			indegree[s.Name]++
		}
	}

	var queue []string
	for _, s := range stages {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		g.order = append(g.order, n)
		for _, m := range g.dependents[n] {
			indegree[m]--
			if indegree[m] == 0 {
				queue = append(queue, m)
			}
		}
	}

	if len(g.order) != len(stages) {
		var stuck []string
		for name, d := range indegree {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w involving %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return g, nil
}

// Order returns the topological order of stage names.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Deps returns the direct dependencies of a stage.
func (g *Graph) Deps(name string) []string {
	return g.deps[name]
}

// Dependents returns the stages directly depending on the given stage.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// Len returns the number of stages in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}
