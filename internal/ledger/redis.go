package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const defaultRetentionTTL = 30 * 24 * time.Hour

var _ Store = (*Redis)(nil)

// Redis stores each entry as a JSON blob keyed by run id, with sorted-set
// indexes scored by completion time for ordered listing. Blobs expire after
// the retention window; index members pointing at expired blobs are skipped
// at read time.
type Redis struct {
	client    *goredis.Client
	prefix    string
	retention time.Duration
	logger    *slog.Logger
}

// NewRedis builds a Redis-backed store. Connectivity is verified in Start.
func NewRedis(cfg types.RedisConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "conveyor:"
	}
	retention := defaultRetentionTTL
	if cfg.RetentionTTL != "" {
		if d, err := time.ParseDuration(cfg.RetentionTTL); err == nil && d > 0 {
			retention = d
		}
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		client:    client,
		prefix:    prefix,
		retention: retention,
		logger:    logger.With("component", "ledger"),
	}
}

// NewRedisFromClient wraps an existing client. Tests use this to point the
// store at a scratch key namespace.
func NewRedisFromClient(client *goredis.Client, prefix string) *Redis {
	return &Redis{
		client:    client,
		prefix:    prefix,
		retention: defaultRetentionTTL,
		logger:    slog.Default().With("component", "ledger"),
	}
}

func (r *Redis) entryKey(runID string) string {
	return r.prefix + "run:" + runID
}

func (r *Redis) indexKey() string {
	return r.prefix + "runs:all"
}

func (r *Redis) pipelineIndexKey(name string) string {
	return r.prefix + "runs:" + name
}

// Record writes the entry blob with SetNX so a run id can only be written
// once, then indexes it. Re-recording an identical outcome is a no-op.
func (r *Redis) Record(ctx context.Context, entry types.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling ledger entry: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.entryKey(entry.RunID), data, r.retention).Result()
	if err != nil {
		return fmt.Errorf("recording run %s: %w", entry.RunID, err)
	}
	if !created {
		existing, err := r.Get(ctx, entry.RunID)
		if err != nil {
			return fmt.Errorf("recording run %s: %w", entry.RunID, err)
		}
		if existing.Outcome == entry.Outcome {
			return nil
		}
		return fmt.Errorf("%w: run %s already recorded as %s, got %s",
			ErrConflict, entry.RunID, existing.Outcome, entry.Outcome)
	}

	score := float64(entry.CompletedAt.UnixMilli())
	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, r.indexKey(), goredis.Z{Score: score, Member: entry.RunID})
	pipe.Expire(ctx, r.indexKey(), r.retention)
	pipe.ZAdd(ctx, r.pipelineIndexKey(entry.Pipeline), goredis.Z{Score: score, Member: entry.RunID})
	pipe.Expire(ctx, r.pipelineIndexKey(entry.Pipeline), r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indexing run %s: %w", entry.RunID, err)
	}
	return nil
}

// Get returns the entry for runID, or ErrNotFound once it has expired.
func (r *Redis) Get(ctx context.Context, runID string) (types.LedgerEntry, error) {
	data, err := r.client.Get(ctx, r.entryKey(runID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return types.LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var entry types.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return types.LedgerEntry{}, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return entry, nil
}

// List ranges the index by completion time and loads each member's blob.
// Members whose score ties are returned in run id order, which matches the
// ordering contract.
func (r *Redis) List(ctx context.Context, q Query) ([]types.LedgerEntry, error) {
	key := r.indexKey()
	if q.Pipeline != "" {
		key = r.pipelineIndexKey(q.Pipeline)
	}

	start, stop := "-inf", "+inf"
	if !q.Since.IsZero() {
		start = strconv.FormatInt(q.Since.UnixMilli(), 10)
	}
	if !q.Until.IsZero() {
		stop = strconv.FormatInt(q.Until.UnixMilli(), 10)
	}
	args := goredis.ZRangeArgs{Key: key, Start: start, Stop: stop, ByScore: true}
	if q.Limit > 0 {
		args.Count = int64(q.Limit)
	}
	ids, err := r.client.ZRangeArgs(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("ranging ledger index: %w", err)
	}

	entries := make([]types.LedgerEntry, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.entryKey(id)).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue // blob expired under the index member
		}
		if err != nil {
			return nil, fmt.Errorf("loading run %s: %w", id, err)
		}
		var entry types.LedgerEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			r.logger.Warn("skipping corrupt ledger entry", "runId", id, "error", err)
			continue
		}
		if !q.Matches(entry) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Start verifies connectivity.
func (r *Redis) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Stop closes the client.
func (r *Redis) Stop(_ context.Context) error {
	return r.client.Close()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
