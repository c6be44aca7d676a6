// Package testutil provides shared fakes for engine tests.
package testutil

import (
	"context"
	"strconv"
	"sync"

	"github.com/armugharaj/full-stack-devops-automation/internal/platform"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Compile-time interface satisfaction check.
var _ platform.Platform = (*FakePlatform)(nil)

// StatusStep is one scripted response from FakePlatform.Status.
type StatusStep struct {
	Status platform.WorkloadStatus
	Err    error
}

// Ready returns a step observing n of n replicas ready.
func Ready(n int) StatusStep {
	return StatusStep{Status: platform.WorkloadStatus{DesiredReplicas: n, ReadyReplicas: n}}
}

// NotReady returns a step observing ready of desired replicas with a diagnostic.
func NotReady(desired, ready int, lastError string) StatusStep {
	return StatusStep{Status: platform.WorkloadStatus{
		DesiredReplicas: desired,
		ReadyReplicas:   ready,
		LastError:       lastError,
	}}
}

// StatusErr returns a step whose poll fails outright.
func StatusErr(err error) StatusStep {
	return StatusStep{Err: err}
}

// FakePlatform records Apply calls and replays scripted Status responses.
// Once the script is exhausted the last step repeats.
type FakePlatform struct {
	mu       sync.Mutex
	applied  []types.WorkloadSpec
	applyErr error
	steps    []StatusStep
	idx      int
	calls    int
}

// NewFakePlatform returns a platform whose Status replays the given steps.
func NewFakePlatform(steps ...StatusStep) *FakePlatform {
	return &FakePlatform{steps: steps}
}

// SetApplyErr makes subsequent Apply calls return err.
func (f *FakePlatform) SetApplyErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErr = err
}

// Apply records the workload spec.
func (f *FakePlatform) Apply(_ context.Context, w types.WorkloadSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, w)
	return nil
}

// Status replays the next scripted step.
func (f *FakePlatform) Status(_ context.Context, _ string) (platform.WorkloadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.steps) == 0 {
		return platform.WorkloadStatus{}, nil
	}
	step := f.steps[f.idx]
	if f.idx < len(f.steps)-1 {
		f.idx++
	}
	return step.Status, step.Err
}

// Applied returns every workload spec passed to Apply.
func (f *FakePlatform) Applied() []types.WorkloadSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.WorkloadSpec, len(f.applied))
	copy(out, f.applied)
	return out
}

// StatusCalls returns how many times Status was polled.
func (f *FakePlatform) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// PublishedArtifact records one FakeRegistry.Publish call.
type PublishedArtifact struct {
	Name    string
	Version string
	Payload string
}

// FakeRegistry records published artifacts.
type FakeRegistry struct {
	mu        sync.Mutex
	published []PublishedArtifact
	err       error
}

// NewFakeRegistry returns an empty fake registry.
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{}
}

// SetErr makes subsequent Publish calls return err.
func (f *FakeRegistry) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Publish records the artifact and returns its reference.
func (f *FakeRegistry) Publish(_ context.Context, name, version, payload string) (types.ArtifactRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.ArtifactRef{}, f.err
	}
	f.published = append(f.published, PublishedArtifact{Name: name, Version: version, Payload: payload})
	return types.ArtifactRef{Name: name, Version: version}, nil
}

// Published returns every recorded publish call.
func (f *FakeRegistry) Published() []PublishedArtifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PublishedArtifact, len(f.published))
	copy(out, f.published)
	return out
}

// StartCall records one FakeStarter.StartRun invocation.
type StartCall struct {
	Definition types.PipelineDefinition
	Context    types.RunContext
}

// FakeStarter records downstream run starts.
type FakeStarter struct {
	mu    sync.Mutex
	calls []StartCall
	err   error
	next  int
}

// NewFakeStarter returns an empty fake starter.
func NewFakeStarter() *FakeStarter {
	return &FakeStarter{}
}

// SetErr makes subsequent StartRun calls return err.
func (f *FakeStarter) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// StartRun records the call and returns a synthetic run id.
func (f *FakeStarter) StartRun(_ context.Context, def types.PipelineDefinition, rc types.RunContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, StartCall{Definition: def, Context: rc})
	f.next++
	return def.Name + "-run-" + strconv.Itoa(f.next), nil
}

// Calls returns every recorded start.
func (f *FakeStarter) Calls() []StartCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StartCall, len(f.calls))
	copy(out, f.calls)
	return out
}
