package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    run_id           TEXT PRIMARY KEY,
    pipeline         TEXT NOT NULL,
    pipeline_version TEXT NOT NULL DEFAULT '',
    kind             TEXT NOT NULL,
    outcome          TEXT NOT NULL,
    run_context      JSONB,
    stages           JSONB,
    created_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ NOT NULL,
    recorded_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_pipeline_completed ON ledger_entries (pipeline, completed_at);
CREATE INDEX IF NOT EXISTS idx_ledger_completed ON ledger_entries (completed_at, run_id);
`

var _ Store = (*Postgres)(nil)

// Postgres stores ledger entries in a single table, one row per run, with
// the stage results held as JSONB.
type Postgres struct {
	dsn    string
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres builds a Postgres-backed store. The pool is opened and the
// schema applied in Start.
func NewPostgres(cfg types.PostgresConfig, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{
		dsn:    cfg.DSN,
		logger: logger.With("component", "ledger"),
	}
}

// Start opens the connection pool, verifies it, and applies the schema.
func (p *Postgres) Start(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return fmt.Errorf("postgres migrate: %w", err)
	}
	p.pool = pool
	return nil
}

// Stop closes the connection pool.
func (p *Postgres) Stop(_ context.Context) error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if p.pool == nil {
		return errors.New("postgres ledger not started")
	}
	return p.pool.Ping(ctx)
}

// Record inserts the entry with DO NOTHING on conflict, then distinguishes
// a harmless duplicate from a conflicting outcome by reading the stored row.
func (p *Postgres) Record(ctx context.Context, entry types.LedgerEntry) error {
	ctxJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}
	stagesJSON, err := json.Marshal(entry.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO ledger_entries (run_id, pipeline, pipeline_version, kind, outcome,
			run_context, stages, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO NOTHING
	`, entry.RunID, entry.Pipeline, entry.PipelineVersion, string(entry.Kind),
		string(entry.Outcome), ctxJSON, stagesJSON, entry.CreatedAt, entry.CompletedAt)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", entry.RunID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var existing string
	err = p.pool.QueryRow(ctx,
		`SELECT outcome FROM ledger_entries WHERE run_id = $1`, entry.RunID).Scan(&existing)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", entry.RunID, err)
	}
	if existing == string(entry.Outcome) {
		return nil
	}
	return fmt.Errorf("%w: run %s already recorded as %s, got %s",
		ErrConflict, entry.RunID, existing, entry.Outcome)
}

// Get returns the entry for runID.
func (p *Postgres) Get(ctx context.Context, runID string) (types.LedgerEntry, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT run_id, pipeline, pipeline_version, kind, outcome,
			run_context, stages, created_at, completed_at
		FROM ledger_entries WHERE run_id = $1
	`, runID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return entry, nil
}

// List filters and orders server-side.
func (p *Postgres) List(ctx context.Context, q Query) ([]types.LedgerEntry, error) {
	sql := `
		SELECT run_id, pipeline, pipeline_version, kind, outcome,
			run_context, stages, created_at, completed_at
		FROM ledger_entries`
	var (
		conds []string
		args  []any
	)
	if q.Pipeline != "" {
		args = append(args, q.Pipeline)
		conds = append(conds, "pipeline = $"+strconv.Itoa(len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		conds = append(conds, "completed_at >= $"+strconv.Itoa(len(args)))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		conds = append(conds, "completed_at <= $"+strconv.Itoa(len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			sql += " WHERE " + c
		} else {
			sql += " AND " + c
		}
	}
	sql += " ORDER BY completed_at, run_id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var entries []types.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			p.logger.Warn("skipping corrupt ledger entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	return entries, nil
}

// scanEntry reads one row in the column order used by Get and List.
func scanEntry(row pgx.Row) (types.LedgerEntry, error) {
	var (
		entry      types.LedgerEntry
		kind       string
		outcome    string
		ctxJSON    []byte
		stagesJSON []byte
	)
	err := row.Scan(&entry.RunID, &entry.Pipeline, &entry.PipelineVersion, &kind, &outcome,
		&ctxJSON, &stagesJSON, &entry.CreatedAt, &entry.CompletedAt)
	if err != nil {
		return types.LedgerEntry{}, err
	}
	entry.Kind = types.PipelineKind(kind)
	entry.Outcome = types.RunOutcome(outcome)
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &entry.Context); err != nil {
			return types.LedgerEntry{}, fmt.Errorf("decode run context: %w", err)
		}
	}
	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &entry.Stages); err != nil {
			return types.LedgerEntry{}, fmt.Errorf("decode stages: %w", err)
		}
	}
	return entry, nil
}
