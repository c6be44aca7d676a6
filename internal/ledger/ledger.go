// Package ledger persists completed pipeline runs for status queries and audit.
//
// A Store is append-only: entries are immutable once written, and Record is
// idempotent on run id. Backends exist for memory, Redis, DynamoDB, and
// Postgres; all of them satisfy the same conformance suite in storetest.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

var (
	// ErrConflict means a run id was re-recorded with a different outcome.
	ErrConflict = errors.New("ledger conflict")

	// ErrNotFound means no entry exists for the requested run id.
	ErrNotFound = errors.New("run not found")
)

// Query filters List results. Zero values leave the dimension unbounded.
type Query struct {
	Pipeline string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Store is the append-only run ledger.
type Store interface {
	// Record persists a completed run. Re-recording the same run id with an
	// identical outcome is a no-op; a different outcome returns ErrConflict.
	Record(ctx context.Context, entry types.LedgerEntry) error

	// Get returns the entry for a run id, or ErrNotFound.
	Get(ctx context.Context, runID string) (types.LedgerEntry, error)

	// List returns entries ordered by completion time, ties broken by run id.
	List(ctx context.Context, q Query) ([]types.LedgerEntry, error)

	// Start prepares the backend: connectivity checks, schema, key setup.
	Start(ctx context.Context) error

	// Stop releases backend resources.
	Stop(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Matches reports whether the entry satisfies the query filter.
func (q Query) Matches(e types.LedgerEntry) bool {
	if q.Pipeline != "" && e.Pipeline != q.Pipeline {
		return false
	}
	if !q.Since.IsZero() && e.CompletedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.CompletedAt.After(q.Until) {
		return false
	}
	return true
}
