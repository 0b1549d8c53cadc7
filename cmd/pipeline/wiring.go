package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	neo4jgraph "github.com/fairyhunter13/cogtriangulate/internal/adapter/graph/neo4j"
	anthropicoracle "github.com/fairyhunter13/cogtriangulate/internal/adapter/oracle/anthropic"
	asynqadp "github.com/fairyhunter13/cogtriangulate/internal/adapter/queue/asynq"
	"github.com/fairyhunter13/cogtriangulate/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/cogtriangulate/internal/config"
	"github.com/fairyhunter13/cogtriangulate/internal/discovery"
	"github.com/fairyhunter13/cogtriangulate/internal/pipeline"
)

// App bundles every adapter and pipeline component the CLI subcommands
// need, built once per invocation from config. Building it here, as one
// explicit constructor taking a Config, is the same single-owner wiring
// style as the oracle/broker/repo construction in a worker process's
// startup sequence — there is no DI container to register types with.
type App struct {
	cfg config.Config

	db          *sql.DB
	redisClient *redis.Client
	broker      *asynqadp.Broker
	lease       *asynqadp.RedisLease
	oracle      *anthropicoracle.Client
	graph       *neo4jgraph.Client

	pipelineRuns *sqlite.PipelineRunRepo

	registry  *pipeline.Registry
	handlers  pipeline.Handlers
	outboxPub *pipeline.OutboxPublisher
	walker    *discovery.Walker
	batcher   *discovery.Batcher
}

// buildApp constructs every adapter from cfg. Errors opening the relational
// store or constructing the Neo4j driver are connection failures (exit 2);
// a malformed Redis URL is caught as a config error (exit 1) since it
// never reaches the network.
func buildApp(cfg config.Config) (*App, error) {
	ctx := context.Background()

	db, err := sqlite.Open(ctx, cfg.SQLiteDBPath)
	if err != nil {
		return nil, exitErr(2, fmt.Errorf("op=wiring.sqlite: %w", err))
	}
	if err := sqlite.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, exitErr(2, fmt.Errorf("op=wiring.migrate: %w", err))
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = db.Close()
		return nil, exitErr(1, fmt.Errorf("op=wiring.redis_url: %w", err))
	}
	if cfg.RedisPassword != "" {
		redisOpt.Password = cfg.RedisPassword
	}
	redisClient := redis.NewClient(redisOpt)

	broker, err := asynqadp.New(cfg.RedisURL, cfg.MaxJobAttempts)
	if err != nil {
		_ = db.Close()
		return nil, exitErr(2, fmt.Errorf("op=wiring.broker: %w", err))
	}
	lease := asynqadp.NewRedisLease(redisClient)

	graph, err := neo4jgraph.New(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		_ = db.Close()
		_ = broker.Close()
		return nil, exitErr(2, fmt.Errorf("op=wiring.neo4j: %w", err))
	}

	maxElapsed, initialInterval, maxInterval, multiplier := cfg.GetAIBackoffConfig()
	oracle := anthropicoracle.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.OracleTimeoutMS,
		cfg.OracleMaxConcurrent, maxElapsed, initialInterval, maxInterval, multiplier)

	fileRepo := sqlite.NewFileRepo(db)
	poiRepo := sqlite.NewPOIRepo(db)
	evidenceRepo := sqlite.NewEvidenceRepo(db)
	relationshipRepo := sqlite.NewRelationshipRepo(db)
	outboxRepo := sqlite.NewOutboxRepo(db)
	analysisWriter := sqlite.NewAnalysisResultRepo(db)
	directoryWriter := sqlite.NewDirectoryResultRepo(db)
	pipelineRuns := sqlite.NewPipelineRunRepo(db)

	deps := pipeline.Dependencies{
		POIs:            poiRepo,
		Evidence:        evidenceRepo,
		Relationships:   relationshipRepo,
		Outbox:          outboxRepo,
		AnalysisWriter:  analysisWriter,
		DirectoryWriter: directoryWriter,
		Oracle:          oracle,
		Graph:           graph,
	}
	handlers := pipeline.NewHandlers(deps)

	registry := pipeline.NewRegistry()
	outboxPub := pipeline.NewOutboxPublisher(outboxRepo, broker, lease, cfg.IngestorBatchSize, 30*time.Second)
	walker := discovery.NewWalker(fileRepo, lease, 30*time.Second, nil)
	batcher := discovery.NewBatcher(fileRepo, outboxRepo, lease, cfg.TargetDirectory, cfg.AnthropicModel, cfg.MaxBatchFiles, cfg.MaxBatchTokens, 30*time.Second)

	return &App{
		cfg:          cfg,
		db:           db,
		redisClient:  redisClient,
		broker:       broker,
		lease:        lease,
		oracle:       oracle,
		graph:        graph,
		pipelineRuns: pipelineRuns,
		registry:     registry,
		handlers:     handlers,
		outboxPub:    outboxPub,
		walker:       walker,
		batcher:      batcher,
	}, nil
}

// Close releases every adapter connection. Errors are logged by callers
// that have a logger; Close itself best-effort closes everything even if
// an earlier Close call in the chain fails.
func (a *App) Close() {
	_ = a.broker.Close()
	_ = a.graph.Close(context.Background())
	_ = a.redisClient.Close()
	_ = a.db.Close()
}
