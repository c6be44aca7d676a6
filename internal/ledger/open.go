package ledger

import (
	"fmt"
	"log/slog"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Open builds the Store selected by cfg.Ledger. An empty selector falls back
// to the in-memory store.
func Open(cfg types.ProjectConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Ledger {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis config is required when ledger is redis")
		}
		return NewRedis(*cfg.Redis, logger), nil
	case "dynamodb":
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb config is required when ledger is dynamodb")
		}
		return NewDynamo(*cfg.DynamoDB, logger)
	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres config is required when ledger is postgres")
		}
		return NewPostgres(*cfg.Postgres, logger), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Ledger)
	}
}
