// Package storetest provides shared conformance tests for ledger.Store
// implementations. Call RunAll from a test function to verify a backend
// satisfies the full behavioral contract.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armugharaj/full-stack-devops-automation/internal/ledger"
	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Fixtures use fixed absolute timestamps and run ids so re-running the suite
// against a persistent backend converges on the same entries instead of
// tripping the conflict check.
var baseTime = time.Date(2030, time.March, 14, 9, 0, 0, 0, time.UTC)

// RunAll runs the complete ledger conformance suite as subtests.
func RunAll(t *testing.T, store ledger.Store) {
	t.Helper()

	t.Run("RecordAndGet", func(t *testing.T) { TestRecordAndGet(t, store) })
	t.Run("RecordIdempotent", func(t *testing.T) { TestRecordIdempotent(t, store) })
	t.Run("RecordConflict", func(t *testing.T) { TestRecordConflict(t, store) })
	t.Run("GetNotFound", func(t *testing.T) { TestGetNotFound(t, store) })
	t.Run("ListOrdering", func(t *testing.T) { TestListOrdering(t, store) })
	t.Run("ListPipelineFilter", func(t *testing.T) { TestListPipelineFilter(t, store) })
	t.Run("ListTimeWindow", func(t *testing.T) { TestListTimeWindow(t, store) })
	t.Run("ListLimit", func(t *testing.T) { TestListLimit(t, store) })
	t.Run("ConcurrentRecord", func(t *testing.T) { TestConcurrentRecord(t, store) })
}

// TestRecordAndGet verifies a recorded entry reads back intact.
func TestRecordAndGet(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	want := entry("ct-run-rg", "ct-pipe-rg", types.RunSucceeded, baseTime)
	require.NoError(t, store.Record(ctx, want))

	got, err := store.Get(ctx, "ct-run-rg")
	require.NoError(t, err)
	assert.Equal(t, "ct-run-rg", got.RunID)
	assert.Equal(t, "ct-pipe-rg", got.Pipeline)
	assert.Equal(t, types.KindCI, got.Kind)
	assert.Equal(t, types.RunSucceeded, got.Outcome)
	assert.Equal(t, "abc1234", got.Context.Commit)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "build", got.Stages[0].Name)
	assert.Equal(t, types.StageSucceeded, got.Stages[0].State)
	assert.Equal(t, 1, got.Stages[0].Attempts)
	assert.True(t, got.CompletedAt.Equal(want.CompletedAt),
		"completed_at should survive the round trip")
}

// TestRecordIdempotent verifies re-recording the same outcome is a no-op.
func TestRecordIdempotent(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	e := entry("ct-run-idem", "ct-pipe-idem", types.RunFailed, baseTime.Add(time.Minute))
	require.NoError(t, store.Record(ctx, e))
	require.NoError(t, store.Record(ctx, e))

	entries, err := store.List(ctx, ledger.Query{Pipeline: "ct-pipe-idem"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestRecordConflict verifies a different outcome for a known run id is
// rejected with ErrConflict.
func TestRecordConflict(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	first := entry("ct-run-conflict", "ct-pipe-conflict", types.RunSucceeded, baseTime.Add(2*time.Minute))
	require.NoError(t, store.Record(ctx, first))

	second := first
	second.Outcome = types.RunFailed
	err := store.Record(ctx, second)
	require.ErrorIs(t, err, ledger.ErrConflict)

	// The original entry is untouched.
	got, err := store.Get(ctx, "ct-run-conflict")
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, got.Outcome)
}

// TestGetNotFound verifies unknown run ids return ErrNotFound.
func TestGetNotFound(t *testing.T, store ledger.Store) {
	_, err := store.Get(context.Background(), "ct-run-nonexistent")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

// TestListOrdering verifies completion-time ordering with run id as the
// tie-breaker, regardless of insert order.
func TestListOrdering(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	tie := baseTime.Add(10 * time.Minute)
	inserts := []types.LedgerEntry{
		entry("ct-ord-late", "ct-pipe-ord", types.RunSucceeded, baseTime.Add(20*time.Minute)),
		entry("ct-ord-tie-b", "ct-pipe-ord", types.RunSucceeded, tie),
		entry("ct-ord-early", "ct-pipe-ord", types.RunSucceeded, baseTime.Add(5*time.Minute)),
		entry("ct-ord-tie-a", "ct-pipe-ord", types.RunSucceeded, tie),
	}
	for _, e := range inserts {
		require.NoError(t, store.Record(ctx, e))
	}

	entries, err := store.List(ctx, ledger.Query{Pipeline: "ct-pipe-ord"})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"ct-ord-early", "ct-ord-tie-a", "ct-ord-tie-b", "ct-ord-late"},
		runIDs(entries))
}

// TestListPipelineFilter verifies the pipeline filter isolates entries.
func TestListPipelineFilter(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, entry("ct-filt-a1", "ct-pipe-filt-a", types.RunSucceeded, baseTime.Add(30*time.Minute))))
	require.NoError(t, store.Record(ctx, entry("ct-filt-b1", "ct-pipe-filt-b", types.RunSucceeded, baseTime.Add(31*time.Minute))))
	require.NoError(t, store.Record(ctx, entry("ct-filt-a2", "ct-pipe-filt-a", types.RunFailed, baseTime.Add(32*time.Minute))))

	entries, err := store.List(ctx, ledger.Query{Pipeline: "ct-pipe-filt-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ct-filt-a1", "ct-filt-a2"}, runIDs(entries))

	entries, err = store.List(ctx, ledger.Query{Pipeline: "ct-pipe-filt-b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ct-filt-b1"}, runIDs(entries))
}

// TestListTimeWindow verifies Since/Until bounds on the unfiltered list. The
// fixtures sit in their own hour so entries from other subtests stay outside
// the window.
func TestListTimeWindow(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	windowBase := baseTime.Add(24 * time.Hour)
	for i, id := range []string{"ct-win-0", "ct-win-1", "ct-win-2", "ct-win-3", "ct-win-4"} {
		e := entry(id, "ct-pipe-win", types.RunSucceeded, windowBase.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Record(ctx, e))
	}

	entries, err := store.List(ctx, ledger.Query{
		Since: windowBase.Add(1 * time.Minute),
		Until: windowBase.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ct-win-1", "ct-win-2", "ct-win-3"}, runIDs(entries))
}

// TestListLimit verifies the limit keeps the oldest entries.
func TestListLimit(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	for i, id := range []string{"ct-lim-0", "ct-lim-1", "ct-lim-2", "ct-lim-3"} {
		e := entry(id, "ct-pipe-lim", types.RunSucceeded, baseTime.Add(40*time.Minute+time.Duration(i)*time.Minute))
		require.NoError(t, store.Record(ctx, e))
	}

	entries, err := store.List(ctx, ledger.Query{Pipeline: "ct-pipe-lim", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"ct-lim-0", "ct-lim-1"}, runIDs(entries))
}

// TestConcurrentRecord verifies racing records of the same entry all succeed
// and leave exactly one stored copy.
func TestConcurrentRecord(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	e := entry("ct-run-race", "ct-pipe-race", types.RunSucceeded, baseTime.Add(50*time.Minute))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Record(ctx, e)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "record %d", i)
	}
	entries, err := store.List(ctx, ledger.Query{Pipeline: "ct-pipe-race"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// entry builds a completed run entry with a single succeeded build stage.
func entry(runID, pipeline string, outcome types.RunOutcome, completedAt time.Time) types.LedgerEntry {
	started := completedAt.Add(-time.Minute)
	finished := completedAt
	return types.LedgerEntry{
		RunID:    runID,
		Pipeline: pipeline,
		Kind:     types.KindCI,
		Outcome:  outcome,
		Context:  types.RunContext{Commit: "abc1234", TriggeredBy: "manual"},
		Stages: []types.StageStatus{
			{
				Name:       "build",
				Class:      types.ClassBuild,
				State:      types.StageSucceeded,
				Attempts:   1,
				StartedAt:  &started,
				FinishedAt: &finished,
			},
		},
		CreatedAt:   started,
		CompletedAt: completedAt,
	}
}

func runIDs(entries []types.LedgerEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.RunID
	}
	return ids
}
