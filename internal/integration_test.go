package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/armugharaj/full-stack-devops-automation/internal/bridge"
	"github.com/armugharaj/full-stack-devops-automation/internal/catalog"
	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/executor"
	"github.com/armugharaj/full-stack-devops-automation/internal/health"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/internal/sink"
	"github.com/armugharaj/full-stack-devops-automation/internal/testutil"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// chain wires a coordinator with real executor semantics against fakes and
// collects every completed run in order.
type chain struct {
	coord    *coordinator.Coordinator
	cat      *catalog.Catalog
	store    *ledger.Memory
	registry *testutil.FakeRegistry
	platform *testutil.FakePlatform

	mu       sync.Mutex
	finished []types.Run
}

func newChain(t *testing.T, plat *testutil.FakePlatform, defs ...types.PipelineDefinition) *chain {
	t.Helper()

	c := &chain{
		cat:      catalog.New(),
		store:    ledger.NewMemory(),
		registry: testutil.NewFakeRegistry(),
		platform: plat,
	}
	for _, def := range defs {
		require.NoError(t, c.cat.Register(def))
	}
	require.NoError(t, c.cat.Validate())

	runner := executor.New(c.registry, c.platform, health.New(c.platform, nil, nil), nil,
		executor.WithRetryDelays(time.Millisecond, 2*time.Millisecond))
	c.coord = coordinator.New(runner, c.store, nil)

	c.coord.OnRunCompleted(func(r types.Run) {
		c.mu.Lock()
		c.finished = append(c.finished, r)
		c.mu.Unlock()
	})
	c.coord.OnRunCompleted(bridge.New(c.coord, c.cat, nil).Listener())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, c.coord.Stop(ctx))
	})
	return c
}

// drain stops the coordinator so downstream runs finish, then returns every
// completed run in completion order.
func (c *chain) drain(t *testing.T) []types.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.coord.Stop(ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Run, len(c.finished))
	copy(out, c.finished)
	return out
}

func commandStage(name string, class types.StageClass, command string, deps ...string) types.StageSpec {
	return types.StageSpec{
		Name:      name,
		Class:     class,
		DependsOn: deps,
		Action:    types.ActionSpec{Type: types.ActionCommand, Command: command},
	}
}

func ciDefinition() types.PipelineDefinition {
	return types.PipelineDefinition{
		Name:       "build-api",
		Version:    "3",
		Kind:       types.KindCI,
		Downstream: "deploy-api",
		Stages: []types.StageSpec{
			commandStage("compile", types.ClassBuild, "echo compiled ${commit}"),
			commandStage("unit", types.ClassTest, "echo tests passed", "compile"),
			commandStage("scan", types.ClassSecurity, "echo no findings", "unit"),
			{
				Name:      "package",
				Class:     types.ClassPublish,
				DependsOn: []string{"scan"},
				Action: types.ActionSpec{
					Type:     types.ActionPublish,
					Artifact: &types.ArtifactSpec{Name: "api", Version: "${commit}"},
				},
			},
		},
	}
}

func cdDefinition() types.PipelineDefinition {
	return types.PipelineDefinition{
		Name:    "deploy-api",
		Version: "3",
		Kind:    types.KindCD,
		Stages: []types.StageSpec{
			{
				Name:  "rollout",
				Class: types.ClassDeploy,
				Action: types.ActionSpec{
					Type: types.ActionApply,
					Workload: &types.WorkloadSpec{
						Name:     "api",
						Image:    "registry.local/api:${artifact.version}",
						Replicas: 3,
						Selector: "app=api",
					},
				},
			},
			{
				Name:      "confirm",
				Class:     types.ClassVerify,
				DependsOn: []string{"rollout"},
				Action: types.ActionSpec{
					Type: types.ActionVerify,
					Health: &types.HealthCheckPolicy{
						Selector:         "app=api",
						Interval:         "10ms",
						MaxAttempts:      20,
						SuccessThreshold: 2,
					},
				},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Test 1: Happy path. A ci run publishes, the bridge starts the cd run, the
// artifact lands in the deployed image, both runs hit the ledger.
// ---------------------------------------------------------------------------

func TestIntegration_ChainedPipelines_ArtifactHandoff(t *testing.T) {
	plat := testutil.NewFakePlatform(
		testutil.NotReady(3, 1, "starting pods"),
		testutil.Ready(3),
	)
	c := newChain(t, plat, ciDefinition(), cdDefinition())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ciDef, _ := c.cat.Get("build-api")
	h, err := c.coord.Start(ctx, ciDef, types.RunContext{Commit: "abc1234", TriggeredBy: "manual"})
	require.NoError(t, err)

	ciRun, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, ciRun.Outcome)
	for _, st := range ciRun.Stages {
		assert.Equal(t, types.StageSucceeded, st.State, "stage %s", st.Name)
	}
	pkg := ciRun.StageByName("package")
	require.NotNil(t, pkg)
	require.NotNil(t, pkg.Artifact)
	assert.Equal(t, "api", pkg.Artifact.Name)
	assert.Equal(t, "abc1234", pkg.Artifact.Version)

	runs := c.drain(t)
	require.Len(t, runs, 2, "ci success should have triggered the cd pipeline")

	cdRun := runs[1]
	assert.Equal(t, "deploy-api", cdRun.Pipeline)
	assert.Equal(t, types.KindCD, cdRun.Kind)
	assert.Equal(t, types.RunSucceeded, cdRun.Outcome)
	assert.Equal(t, ciRun.ID, cdRun.Context.TriggeredBy, "cd run should name its upstream run")
	assert.Equal(t, "abc1234", cdRun.Context.Commit)
	require.NotNil(t, cdRun.Context.Artifact)
	assert.Equal(t, "api", cdRun.Context.Artifact.Name)
	assert.Equal(t, "abc1234", cdRun.Context.Artifact.Version)

	// The published artifact version flows into the deployed image.
	published := c.registry.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "abc1234", published[0].Version)

	applied := plat.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "registry.local/api:abc1234", applied[0].Image)
	assert.Equal(t, 3, applied[0].Replicas)

	// One not-ready poll, then two consecutive ready polls clear the threshold.
	assert.Equal(t, 3, plat.StatusCalls())

	// Both runs are in the ledger.
	entries, err := c.store.List(ctx, ledger.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ciRun.ID, entries[0].RunID)
	assert.Equal(t, cdRun.ID, entries[1].RunID)

	ciEntry, err := c.store.Get(ctx, ciRun.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, ciEntry.Outcome)
	assert.Equal(t, types.KindCI, ciEntry.Kind)
}

// ---------------------------------------------------------------------------
// Test 2: Failing stage. Dependents skip, the run fails, nothing publishes,
// no cd run starts, and the file sink records the failure.
// ---------------------------------------------------------------------------

func TestIntegration_FailingStage_BlocksHandoff(t *testing.T) {
	def := ciDefinition()
	def.Stages[1] = commandStage("unit", types.ClassTest, "exit 3", "compile")

	c := newChain(t, testutil.NewFakePlatform(), def, cdDefinition())

	logPath := filepath.Join(t.TempDir(), "events.log")
	dispatcher, err := sink.NewDispatcher([]types.SinkConfig{
		{Type: types.SinkFile, Path: logPath},
	}, nil)
	require.NoError(t, err)
	c.coord.OnRunCompleted(dispatcher.RunListener())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := c.coord.Start(ctx, def, types.RunContext{Commit: "bad4567", TriggeredBy: "manual"})
	require.NoError(t, err)

	run, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Outcome)

	assert.Equal(t, types.StageSucceeded, run.StageByName("compile").State)
	unit := run.StageByName("unit")
	assert.Equal(t, types.StageFailed, unit.State)
	assert.Contains(t, unit.Error, "exited with code 3")
	assert.Equal(t, types.StageSkipped, run.StageByName("scan").State)
	assert.Equal(t, types.StageSkipped, run.StageByName("package").State)

	runs := c.drain(t)
	require.Len(t, runs, 1, "a failed ci run must not trigger the cd pipeline")
	assert.Empty(t, c.registry.Published())
	assert.Empty(t, c.platform.Applied())

	entry, err := c.store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, entry.Outcome)

	// The sink got the run summary, the failed stage, and a duration sample.
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, string(data), "run finished with outcome FAILED")
	assert.Contains(t, string(data), "run_duration_seconds")
}

// ---------------------------------------------------------------------------
// Test 3: Stage timeout. The attempt budget is spent, the final state is
// TimedOut, and the run fails.
// ---------------------------------------------------------------------------

func TestIntegration_StageTimeout_RetriesThenFails(t *testing.T) {
	def := types.PipelineDefinition{
		Name: "slow-build",
		Kind: types.KindCI,
		Stages: []types.StageSpec{
			{
				Name:    "compile",
				Class:   types.ClassBuild,
				Timeout: "50ms",
				Retries: 1,
				Action:  types.ActionSpec{Type: types.ActionCommand, Command: "sleep 5"},
			},
			commandStage("unit", types.ClassTest, "echo unreachable", "compile"),
		},
	}
	c := newChain(t, testutil.NewFakePlatform(), def)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := c.coord.Start(ctx, def, types.RunContext{TriggeredBy: "manual"})
	require.NoError(t, err)

	run, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Outcome)

	compile := run.StageByName("compile")
	assert.Equal(t, types.StageTimedOut, compile.State)
	assert.Equal(t, 2, compile.Attempts, "one retry means two attempts")
	assert.Contains(t, compile.Error, "timeout")
	assert.Equal(t, types.StageSkipped, run.StageByName("unit").State)
}

// ---------------------------------------------------------------------------
// Test 4: Verify gate failure. The workload never goes healthy, the verify
// stage fails after its attempt budget, and the cd run fails.
// ---------------------------------------------------------------------------

func TestIntegration_VerifyGate_Unhealthy(t *testing.T) {
	def := cdDefinition()
	def.Stages[1].Action.Health = &types.HealthCheckPolicy{
		Selector:         "app=api",
		Interval:         "5ms",
		MaxAttempts:      3,
		SuccessThreshold: 2,
	}

	plat := testutil.NewFakePlatform(testutil.NotReady(3, 0, "CrashLoopBackOff"))
	c := newChain(t, plat, def)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := c.coord.Start(ctx, def, types.RunContext{
		Commit:      "abc1234",
		Artifact:    &types.ArtifactRef{Name: "api", Version: "abc1234"},
		TriggeredBy: "manual",
	})
	require.NoError(t, err)

	run, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Outcome)

	confirm := run.StageByName("confirm")
	assert.Equal(t, types.StageFailed, confirm.State)
	assert.Contains(t, confirm.Error, "unhealthy after 3 polls")
	assert.Contains(t, confirm.Error, "CrashLoopBackOff")
	assert.Equal(t, 3, plat.StatusCalls())
}

// ---------------------------------------------------------------------------
// Test 5: Cancellation. In-flight stages are interrupted, everything
// non-terminal ends Skipped, and the cancelled run still hits the ledger.
// ---------------------------------------------------------------------------

func TestIntegration_Cancellation_RecordsCancelledRun(t *testing.T) {
	def := types.PipelineDefinition{
		Name: "long-build",
		Kind: types.KindCI,
		Stages: []types.StageSpec{
			commandStage("compile", types.ClassBuild, "sleep 5"),
			commandStage("unit", types.ClassTest, "echo unreachable", "compile"),
		},
	}
	c := newChain(t, testutil.NewFakePlatform(), def)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := c.coord.Start(ctx, def, types.RunContext{TriggeredBy: "manual"})
	require.NoError(t, err)

	testutil.WaitFor(t, 5*time.Second, func() bool {
		r, ok := c.coord.ActiveRun(h.RunID)
		return ok && r.StageByName("compile").State == types.StageRunning
	}, "compile stage should start")

	h.Cancel()

	run, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunCancelled, run.Outcome)
	assert.Equal(t, types.StageSkipped, run.StageByName("compile").State)
	assert.Equal(t, types.StageSkipped, run.StageByName("unit").State)
	require.NotNil(t, run.CompletedAt)

	entry, err := c.store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCancelled, entry.Outcome)
}
