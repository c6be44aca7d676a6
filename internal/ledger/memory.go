package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store for tests and single-node setups.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]types.LedgerEntry
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]types.LedgerEntry)}
}

// Record stores the entry, enforcing idempotence on run id.
func (m *Memory) Record(_ context.Context, entry types.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[entry.RunID]; ok {
		if existing.Outcome == entry.Outcome {
			return nil
		}
		return fmt.Errorf("%w: run %s already recorded as %s, got %s",
			ErrConflict, entry.RunID, existing.Outcome, entry.Outcome)
	}
	m.entries[entry.RunID] = cloneEntry(entry)
	return nil
}

// Get returns the entry for runID.
func (m *Memory) Get(_ context.Context, runID string) (types.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[runID]
	if !ok {
		return types.LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return cloneEntry(entry), nil
}

// List returns matching entries ordered by completion time, then run id.
func (m *Memory) List(_ context.Context, q Query) ([]types.LedgerEntry, error) {
	m.mu.RLock()
	out := make([]types.LedgerEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if q.Matches(entry) {
			out = append(out, cloneEntry(entry))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.Before(out[j].CompletedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Start(context.Context) error { return nil }
func (m *Memory) Stop(context.Context) error  { return nil }
func (m *Memory) Ping(context.Context) error  { return nil }

// cloneEntry deep-copies an entry so callers can never mutate stored state.
func cloneEntry(e types.LedgerEntry) types.LedgerEntry {
	out := e
	out.Stages = make([]types.StageStatus, len(e.Stages))
	for i, st := range e.Stages {
		cp := st
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
		out.Stages[i] = cp
	}
	if e.Context.Artifact != nil {
		a := *e.Context.Artifact
		out.Context.Artifact = &a
	}
	return out
}
