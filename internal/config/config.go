// Package config handles loading and validation of conveyor.yaml project
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// FileName is the project configuration file conveyor looks for.
const FileName = "conveyor.yaml"

// Load reads and parses conveyor.yaml from the given directory. Secrets can
// be supplied through the environment instead of the file: CONVEYOR_API_KEY
// overrides server.apiKey.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyEnv(cfg *types.ProjectConfig) {
	if key := os.Getenv("CONVEYOR_API_KEY"); key != "" {
		if cfg.Server == nil {
			cfg.Server = &types.ServerConfig{}
		}
		cfg.Server.APIKey = key
	}
}

// Validate checks cross-field requirements that YAML decoding cannot express.
func Validate(cfg *types.ProjectConfig) error {
	switch cfg.Ledger {
	case "", "memory":
	case "redis":
		if cfg.Redis == nil {
			return fmt.Errorf("redis config is required when ledger is redis")
		}
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	case "dynamodb":
		if cfg.DynamoDB == nil {
			return fmt.Errorf("dynamodb config is required when ledger is dynamodb")
		}
		if cfg.DynamoDB.TableName == "" {
			return fmt.Errorf("dynamodb.tableName is required")
		}
	case "postgres":
		if cfg.Postgres == nil {
			return fmt.Errorf("postgres config is required when ledger is postgres")
		}
		if cfg.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger)
	}

	if len(cfg.PipelineDirs) == 0 {
		return fmt.Errorf("at least one pipelineDir is required")
	}

	if cfg.Registry != nil {
		switch cfg.Registry.Type {
		case "", "http":
			if cfg.Registry.URL == "" {
				return fmt.Errorf("registry.url is required")
			}
		case "minio":
			if cfg.Registry.Endpoint == "" {
				return fmt.Errorf("registry.endpoint is required")
			}
			if cfg.Registry.Bucket == "" {
				return fmt.Errorf("registry.bucket is required")
			}
		default:
			return fmt.Errorf("unknown registry type %q", cfg.Registry.Type)
		}
	}

	if cfg.Platform != nil && cfg.Platform.URL == "" {
		return fmt.Errorf("platform.url is required")
	}

	if cfg.Engine != nil {
		if cfg.Engine.MaxParallel < 0 {
			return fmt.Errorf("engine.maxParallel must not be negative")
		}
		if err := checkDuration("engine.defaultStageTimeout", cfg.Engine.DefaultStageTimeout); err != nil {
			return err
		}
		if err := checkDuration("engine.retryBaseDelay", cfg.Engine.RetryBaseDelay); err != nil {
			return err
		}
		if err := checkDuration("engine.retryMaxDelay", cfg.Engine.RetryMaxDelay); err != nil {
			return err
		}
	}
	if cfg.Redis != nil {
		if err := checkDuration("redis.retentionTtl", cfg.Redis.RetentionTTL); err != nil {
			return err
		}
	}
	if cfg.DynamoDB != nil {
		if err := checkDuration("dynamodb.retentionTtl", cfg.DynamoDB.RetentionTTL); err != nil {
			return err
		}
	}
	if cfg.Platform != nil {
		if err := checkDuration("platform.timeout", cfg.Platform.Timeout); err != nil {
			return err
		}
	}

	return nil
}

func checkDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	return nil
}
