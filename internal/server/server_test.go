package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armugharaj/full-stack-devops-automation/internal/catalog"
	"github.com/armugharaj/full-stack-devops-automation/internal/coordinator"
	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// runnerFunc adapts a closure to the coordinator's StageRunner interface.
type runnerFunc func(ctx context.Context, spec types.StageSpec, rc types.RunContext) types.StageResult

func (f runnerFunc) Execute(ctx context.Context, spec types.StageSpec, rc types.RunContext) types.StageResult {
	return f(ctx, spec, rc)
}

var succeed = runnerFunc(func(_ context.Context, spec types.StageSpec, _ types.RunContext) types.StageResult {
	return types.StageResult{State: types.StageSucceeded, Attempts: 1, Output: spec.Name + " ok"}
})

var blockUntilCancelled = runnerFunc(func(ctx context.Context, _ types.StageSpec, _ types.RunContext) types.StageResult {
	<-ctx.Done()
	return types.StageResult{State: types.StageFailed, Attempts: 1, Error: ctx.Err().Error()}
})

func stage(name string, deps ...string) types.StageSpec {
	return types.StageSpec{
		Name:      name,
		Class:     types.ClassBuild,
		DependsOn: deps,
		Action:    types.ActionSpec{Type: types.ActionCommand, Command: "true"},
	}
}

func setupTestServer(t *testing.T) (*httptest.Server, ledger.Store) {
	t.Helper()
	return setupTestServerWithOpts(t, succeed, "", 0)
}

func setupTestServerWithOpts(t *testing.T, runner coordinator.StageRunner, apiKey string, maxBody int64) (*httptest.Server, ledger.Store) {
	t.Helper()
	store := ledger.NewMemory()
	coord := coordinator.New(runner, store, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Stop(ctx)
	})

	cat := catalog.New()
	require.NoError(t, cat.Register(types.PipelineDefinition{
		Name:    "checkout",
		Version: "3",
		Kind:    types.KindCI,
		Stages:  []types.StageSpec{stage("build"), stage("test", "build")},
	}))

	srv := New(types.ServerConfig{Addr: ":0", APIKey: apiKey, MaxRequestBody: maxBody}, coord, cat, store, nil)

	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts, store
}

// runOutcome polls a run over the API without failing the test on transient
// decode errors, for use inside Eventually conditions.
func runOutcome(ts *httptest.Server, id string) (types.RunOutcome, bool) {
	resp, err := http.Get(ts.URL + "/api/runs/" + id)
	if err != nil {
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var run types.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return "", false
	}
	return run.Outcome, true
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestPipelineEndpoints(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/pipelines")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var defs []types.PipelineDefinition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "checkout", defs[0].Name)

	resp, err = http.Get(ts.URL + "/api/pipelines/checkout")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/pipelines/unknown")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRunAndGetRun(t *testing.T) {
	ts, _ := setupTestServer(t)

	body := `{"commit":"abc1234","triggeredBy":"manual"}`
	resp, err := http.Post(ts.URL+"/api/pipelines/checkout/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started types.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "checkout", started.Pipeline)

	require.Eventually(t, func() bool {
		outcome, ok := runOutcome(ts, started.ID)
		return ok && outcome == types.RunSucceeded
	}, 2*time.Second, 10*time.Millisecond, "run should complete and stay queryable")

	resp, err = http.Get(ts.URL + "/api/runs/" + started.ID)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var final types.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&final))
	assert.Equal(t, types.RunSucceeded, final.Outcome)
	assert.Equal(t, "abc1234", final.Context.Commit)
	assert.Len(t, final.Stages, 2)
}

func TestStartRun_UnknownPipeline(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/pipelines/ghost/run", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRun_EmptyBodyAllowed(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/pipelines/checkout/run", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCancelRun(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, blockUntilCancelled, "", 0)

	resp, err := http.Post(ts.URL+"/api/pipelines/checkout/run", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started types.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))

	resp, err = http.Get(ts.URL + "/api/runs/active")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var active []types.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&active))
	assert.Len(t, active, 1)

	resp, err = http.Post(ts.URL+"/api/runs/"+started.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		outcome, ok := runOutcome(ts, started.ID)
		return ok && outcome == types.RunCancelled
	}, 2*time.Second, 10*time.Millisecond, "cancelled run should be recorded")

	// The run is no longer active, so a second cancel misses.
	resp, err = http.Post(ts.URL+"/api/runs/"+started.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRun_NotFound(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/runs/no-such-run")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	ts, store := setupTestServer(t)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		entry := types.LedgerEntry{
			RunID:       id,
			Pipeline:    "checkout",
			Kind:        types.KindCI,
			Outcome:     types.RunSucceeded,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			CompletedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		require.NoError(t, store.Record(context.Background(), entry))
	}

	resp, err := http.Get(ts.URL + "/api/pipelines/checkout/runs")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []types.LedgerEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "run-a", entries[0].RunID)

	resp, err = http.Get(ts.URL + "/api/runs?limit=2")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	entries = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	assert.Len(t, entries, 2)

	resp, err = http.Get(ts.URL + "/api/runs?since=" + base.Add(2*time.Minute).Format(time.RFC3339))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	entries = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "run-c", entries[0].RunID)

	resp, err = http.Get(ts.URL + "/api/runs?since=yesterday")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, succeed, "secret-key", 0)

	// Health stays open for probes.
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/pipelines")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/pipelines", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.Header.Set("X-API-Key", "wrong-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMaxBodyLimit(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, succeed, "", 32)

	big := `{"commit":"` + strings.Repeat("a", 256) + `"}`
	resp, err := http.Post(ts.URL+"/api/pipelines/checkout/run", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "trace-me", resp.Header.Get("X-Request-ID"))
}
