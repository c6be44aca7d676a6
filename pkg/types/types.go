package types

import (
	"strings"
	"time"
)

// ArtifactRef identifies one immutable build artifact.
type ArtifactRef struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// String renders the reference as name:version.
func (a ArtifactRef) String() string {
	return a.Name + ":" + a.Version
}

// ArtifactSpec describes what a publish stage uploads to the registry.
// An empty version defaults to the run's commit.
type ArtifactSpec struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// WorkloadSpec is the deployment shape submitted to the platform by apply stages.
type WorkloadSpec struct {
	Name     string            `yaml:"name" json:"name"`
	Image    string            `yaml:"image" json:"image"`
	Replicas int               `yaml:"replicas,omitempty" json:"replicas,omitempty"`
	Selector string            `yaml:"selector,omitempty" json:"selector,omitempty"`
	Env      map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// HealthCheckPolicy bounds a post-deploy health verification. Zero fields
// fall back to engine defaults.
type HealthCheckPolicy struct {
	Selector         string `yaml:"selector" json:"selector"`
	Interval         string `yaml:"interval,omitempty" json:"interval,omitempty"` // e.g. "5s"
	MaxAttempts      int    `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	SuccessThreshold int    `yaml:"successThreshold,omitempty" json:"successThreshold,omitempty"`
}

// IntervalDuration parses the poll interval, or returns fallback when unset
// or invalid.
func (p HealthCheckPolicy) IntervalDuration(fallback time.Duration) time.Duration {
	if p.Interval == "" {
		return fallback
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ActionSpec defines what a stage executes. Exactly one action family is
// populated, selected by Type.
type ActionSpec struct {
	Type     ActionType         `yaml:"type" json:"type"`
	Command  string             `yaml:"command,omitempty" json:"command,omitempty"`
	Method   string             `yaml:"method,omitempty" json:"method,omitempty"`
	URL      string             `yaml:"url,omitempty" json:"url,omitempty"`
	Headers  map[string]string  `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body     string             `yaml:"body,omitempty" json:"body,omitempty"`
	Artifact *ArtifactSpec      `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	Workload *WorkloadSpec      `yaml:"workload,omitempty" json:"workload,omitempty"`
	Health   *HealthCheckPolicy `yaml:"health,omitempty" json:"health,omitempty"`
}

// StageSpec declares one stage of a pipeline definition.
type StageSpec struct {
	Name      string     `yaml:"name" json:"name"`
	Class     StageClass `yaml:"class" json:"class"`
	DependsOn []string   `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Action    ActionSpec `yaml:"action" json:"action"`
	Timeout   string     `yaml:"timeout,omitempty" json:"timeout,omitempty"` // Go duration, e.g. "90s"
	Retries   int        `yaml:"retries,omitempty" json:"retries,omitempty"` // additional attempts after the first
}

// TimeoutDuration parses the stage timeout, or returns fallback when unset
// or invalid.
func (s StageSpec) TimeoutDuration(fallback time.Duration) time.Duration {
	if s.Timeout == "" {
		return fallback
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// PipelineDefinition is a named, versioned, acyclic graph of stages.
type PipelineDefinition struct {
	Name       string       `yaml:"name" json:"name"`
	Version    string       `yaml:"version,omitempty" json:"version,omitempty"`
	Kind       PipelineKind `yaml:"kind" json:"kind"`
	Downstream string       `yaml:"downstream,omitempty" json:"downstream,omitempty"` // CD pipeline triggered on CI success
	Stages     []StageSpec  `yaml:"stages" json:"stages"`
}

// Stage returns the stage spec with the given name.
func (d PipelineDefinition) Stage(name string) (StageSpec, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageSpec{}, false
}

// RunContext carries the inputs a run executes against.
type RunContext struct {
	Commit      string       `yaml:"commit,omitempty" json:"commit,omitempty"`
	Artifact    *ArtifactRef `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	TriggeredBy string       `yaml:"triggeredBy,omitempty" json:"triggeredBy,omitempty"` // upstream run id, or "manual"
}

// Expand substitutes ${commit}, ${artifact.name} and ${artifact.version}
// placeholders in s with values from the context.
func (rc RunContext) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	pairs := []string{"${commit}", rc.Commit}
	if rc.Artifact != nil {
		pairs = append(pairs,
			"${artifact.name}", rc.Artifact.Name,
			"${artifact.version}", rc.Artifact.Version,
		)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// StageStatus is the recorded state of one stage within a run.
type StageStatus struct {
	Name       string       `json:"name"`
	Class      StageClass   `json:"class"`
	State      StageState   `json:"state"`
	Attempts   int          `json:"attempts"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	Artifact   *ArtifactRef `json:"artifact,omitempty"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

// StageResult is what the executor reports back for one stage execution.
// State is always terminal.
type StageResult struct {
	State    StageState   `json:"state"`
	Attempts int          `json:"attempts"`
	Output   string       `json:"output,omitempty"`
	Error    string       `json:"error,omitempty"`
	Artifact *ArtifactRef `json:"artifact,omitempty"`
}

// Run is one execution of a pipeline definition. Stages are kept in
// definition order.
type Run struct {
	ID              string         `json:"id"`
	Pipeline        string         `json:"pipeline"`
	PipelineVersion string         `json:"pipelineVersion,omitempty"`
	Kind            PipelineKind   `json:"kind"`
	Outcome         RunOutcome     `json:"outcome"`
	Context         RunContext     `json:"context"`
	Stages          []*StageStatus `json:"stages"`
	CreatedAt       time.Time      `json:"createdAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// StageByName returns the status of the named stage, or nil.
func (r *Run) StageByName(name string) *StageStatus {
	for _, st := range r.Stages {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand outside the scheduler goroutine.
func (r *Run) Clone() Run {
	out := *r
	out.Stages = make([]*StageStatus, len(r.Stages))
	for i, st := range r.Stages {
		cp := *st
		if st.Artifact != nil {
			a := *st.Artifact
			cp.Artifact = &a
		}
		if st.StartedAt != nil {
			t := *st.StartedAt
			cp.StartedAt = &t
		}
		if st.FinishedAt != nil {
			t := *st.FinishedAt
			cp.FinishedAt = &t
		}
		out.Stages[i] = &cp
	}
	if r.Context.Artifact != nil {
		a := *r.Context.Artifact
		out.Context.Artifact = &a
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// LedgerEntry is the immutable record of a completed run.
type LedgerEntry struct {
	RunID           string        `json:"runId"`
	Pipeline        string        `json:"pipeline"`
	PipelineVersion string        `json:"pipelineVersion,omitempty"`
	Kind            PipelineKind  `json:"kind"`
	Outcome         RunOutcome    `json:"outcome"`
	Context         RunContext    `json:"context"`
	Stages          []StageStatus `json:"stages"`
	CreatedAt       time.Time     `json:"createdAt"`
	CompletedAt     time.Time     `json:"completedAt"`
}

// EntryFromRun snapshots a terminal run into a ledger entry. Stage order
// follows the definition order carried by the run.
func EntryFromRun(run Run) LedgerEntry {
	entry := LedgerEntry{
		RunID:           run.ID,
		Pipeline:        run.Pipeline,
		PipelineVersion: run.PipelineVersion,
		Kind:            run.Kind,
		Outcome:         run.Outcome,
		Context:         run.Context,
		Stages:          make([]StageStatus, 0, len(run.Stages)),
		CreatedAt:       run.CreatedAt,
	}
	if run.CompletedAt != nil {
		entry.CompletedAt = *run.CompletedAt
	}
	for _, st := range run.Stages {
		entry.Stages = append(entry.Stages, *st)
	}
	return entry
}

// RunFromEntry rebuilds a run snapshot from its ledger record.
func RunFromEntry(entry LedgerEntry) Run {
	run := Run{
		ID:              entry.RunID,
		Pipeline:        entry.Pipeline,
		PipelineVersion: entry.PipelineVersion,
		Kind:            entry.Kind,
		Outcome:         entry.Outcome,
		Context:         entry.Context,
		Stages:          make([]*StageStatus, 0, len(entry.Stages)),
		CreatedAt:       entry.CreatedAt,
	}
	completed := entry.CompletedAt
	run.CompletedAt = &completed
	for i := range entry.Stages {
		st := entry.Stages[i]
		run.Stages = append(run.Stages, &st)
	}
	return run
}

// Sample is one time-series measurement emitted to event sinks.
type Sample struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	At     time.Time         `json:"at"`
}

// LogLine is one structured log record emitted to event sinks.
type LogLine struct {
	Level    SinkLevel `json:"level"`
	Pipeline string    `json:"pipeline,omitempty"`
	RunID    string    `json:"runId,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}
