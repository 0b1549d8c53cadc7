// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	// TargetDirectory is the root of the source tree to ingest.
	TargetDirectory string `env:"TARGET_DIRECTORY" envDefault:"." validate:"required"`

	// SQLiteDBPath is the path to the relational store backing the outbox,
	// file/POI/evidence/relationship tables.
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/cogtriangulate.db"`

	// Neo4j graph store connection.
	Neo4jURI      string `env:"NEO4J_URI" envDefault:"bolt://localhost:7687"`
	Neo4jUser     string `env:"NEO4J_USER" envDefault:"neo4j"`
	Neo4jPassword string `env:"NEO4J_PASSWORD"`
	Neo4jDatabase string `env:"NEO4J_DATABASE" envDefault:"neo4j"`

	// Redis-backed queue broker and distributed lease store.
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// AnthropicAPIKey authenticates oracle calls.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-sonnet-latest"`

	// Ingestor (discovery + batching, C3) tuning.
	IngestorBatchSize  int           `env:"INGESTOR_BATCH_SIZE" envDefault:"25"`
	IngestorIntervalMS time.Duration `env:"INGESTOR_INTERVAL_MS" envDefault:"500ms"`
	MaxBatchTokens     int           `env:"MAX_BATCH_TOKENS" envDefault:"60000"`
	MaxBatchFiles      int           `env:"MAX_BATCH_FILES" envDefault:"10"`

	// Worker concurrency per pipeline stage.
	WorkerConcurrencyAnalysis       int `env:"WORKER_CONCURRENCY_ANALYSIS" envDefault:"8"`
	WorkerConcurrencyDirectory      int `env:"WORKER_CONCURRENCY_DIRECTORY" envDefault:"4"`
	WorkerConcurrencyRelationship   int `env:"WORKER_CONCURRENCY_RELATIONSHIP" envDefault:"4"`
	WorkerConcurrencyValidation     int `env:"WORKER_CONCURRENCY_VALIDATION" envDefault:"4"`
	WorkerConcurrencyReconciliation int `env:"WORKER_CONCURRENCY_RECONCILIATION" envDefault:"4"`
	WorkerConcurrencyGraphBuilder   int `env:"WORKER_CONCURRENCY_GRAPHBUILDER" envDefault:"2"`

	// Oracle call shaping.
	OracleTimeoutMS     time.Duration `env:"ORACLE_TIMEOUT_MS" envDefault:"30s"`
	OracleMaxConcurrent int           `env:"ORACLE_MAX_CONCURRENT" envDefault:"4"`

	// Retry / DLQ.
	MaxJobAttempts int `env:"MAX_JOB_ATTEMPTS" envDefault:"5"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"cogtriangulate"`

	// AI Backoff configuration, applied to oracle calls.
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"180s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"2s"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"20s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	// Retry configuration, applied to queue consumer handlers.
	RetryMaxRetries   int           `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"2s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	RetryMultiplier   float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
	RetryJitter       bool          `env:"RETRY_JITTER" envDefault:"true"`

	// DLQ configuration (DLQ always enabled).
	DLQMaxAge          time.Duration `env:"DLQ_MAX_AGE" envDefault:"168h"`
	DLQCleanupInterval time.Duration `env:"DLQ_CLEANUP_INTERVAL" envDefault:"24h"`
}

// Load parses environment variables into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// Validate enforces structural constraints plus extra checks that only bind
// in production (a populated ANTHROPIC_API_KEY and Neo4j credentials).
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("op=config.Validate: %w", err)
	}
	if c.IsProd() {
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("op=config.Validate: %w: ANTHROPIC_API_KEY is required in prod", errRequiredInProd)
		}
		if c.Neo4jPassword == "" {
			return fmt.Errorf("op=config.Validate: %w: NEO4J_PASSWORD is required in prod", errRequiredInProd)
		}
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetAIBackoffConfig returns backoff configuration appropriate for the current environment.
// In test environments, uses much shorter timeouts for faster test execution.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 5 * time.Second, 100 * time.Millisecond, 1 * time.Second, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}
