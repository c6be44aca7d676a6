package types

// ProjectConfig represents the top-level conveyor.yaml configuration.
type ProjectConfig struct {
	Ledger       string           `yaml:"ledger"` // memory | redis | dynamodb | postgres
	Redis        *RedisConfig     `yaml:"redis,omitempty"`
	DynamoDB     *DynamoDBConfig  `yaml:"dynamodb,omitempty"`
	Postgres     *PostgresConfig  `yaml:"postgres,omitempty"`
	Registry     *RegistryConfig  `yaml:"registry,omitempty"`
	Platform     *PlatformConfig  `yaml:"platform,omitempty"`
	Server       *ServerConfig    `yaml:"server,omitempty"`
	Engine       *EngineConfig    `yaml:"engine,omitempty"`
	Telemetry    *TelemetryConfig `yaml:"telemetry,omitempty"`
	Sinks        []SinkConfig     `yaml:"sinks,omitempty"`
	PipelineDirs []string         `yaml:"pipelineDirs"`
}

// RedisConfig holds Redis/Valkey connection settings for the run ledger.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	KeyPrefix    string `yaml:"keyPrefix"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"` // default "720h" (30 days)
}

// DynamoDBConfig holds DynamoDB connection and table settings for the run ledger.
type DynamoDBConfig struct {
	TableName    string `yaml:"tableName" json:"tableName"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
	CreateTable  bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// PostgresConfig holds Postgres connection settings for the run ledger.
type PostgresConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// RegistryConfig selects and configures the artifact registry backend.
type RegistryConfig struct {
	Type      string `yaml:"type"` // http | minio
	URL       string `yaml:"url,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	AccessKey string `yaml:"accessKey,omitempty"`
	SecretKey string `yaml:"secretKey,omitempty"`
	UseSSL    bool   `yaml:"useSsl,omitempty"`
}

// PlatformConfig configures the deployment platform client.
type PlatformConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token,omitempty"`
	Timeout string `yaml:"timeout,omitempty"` // per-request, e.g. "15s"
}

// SinkConfig defines one event sink.
type SinkConfig struct {
	Type      SinkType `yaml:"type" json:"type"`
	URL       string   `yaml:"url,omitempty" json:"url,omitempty"`
	Path      string   `yaml:"path,omitempty" json:"path,omitempty"`
	LogGroup  string   `yaml:"logGroup,omitempty" json:"logGroup,omitempty"`
	LogStream string   `yaml:"logStream,omitempty" json:"logStream,omitempty"`
	Region    string   `yaml:"region,omitempty" json:"region,omitempty"`
}

// TelemetryConfig configures OTLP metric and trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty"` // host:port of an OTLP gRPC collector
	ServiceName string `yaml:"serviceName,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
}

// EngineConfig holds engine-level execution settings.
type EngineConfig struct {
	DefaultStageTimeout string `yaml:"defaultStageTimeout,omitempty"` // e.g. "10m"
	MaxParallel         int    `yaml:"maxParallel,omitempty"`
	RetryBaseDelay      string `yaml:"retryBaseDelay,omitempty"` // e.g. "2s"
	RetryMaxDelay       string `yaml:"retryMaxDelay,omitempty"`  // e.g. "30s"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}
