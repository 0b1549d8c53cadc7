package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	neo4jgraph "github.com/fairyhunter13/cogtriangulate/internal/adapter/graph/neo4j"
	"github.com/fairyhunter13/cogtriangulate/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/cogtriangulate/internal/config"
)

func newTestConnectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connections",
		Short: "Verify the relational store, queue broker, and graph store are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestConnections()
		},
	}
}

func runTestConnections() error {
	cfg, err := config.Load()
	if err != nil {
		return exitErr(1, fmt.Errorf("op=test_connections.load_config: %w", err))
	}

	ctx := context.Background()

	db, err := sqlite.Open(ctx, cfg.SQLiteDBPath)
	if err != nil {
		return exitErr(2, fmt.Errorf("op=test_connections.sqlite: %w", err))
	}
	defer db.Close()
	fmt.Println("sqlite: ok")

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return exitErr(1, fmt.Errorf("op=test_connections.redis_url: %w", err))
	}
	if cfg.RedisPassword != "" {
		redisOpt.Password = cfg.RedisPassword
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return exitErr(2, fmt.Errorf("op=test_connections.redis: %w", err))
	}
	fmt.Println("redis: ok")

	graph, err := neo4jgraph.New(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		return exitErr(2, fmt.Errorf("op=test_connections.neo4j_connect: %w", err))
	}
	defer graph.Close(ctx)
	if err := graph.VerifyConnectivity(ctx); err != nil {
		return exitErr(2, fmt.Errorf("op=test_connections.neo4j: %w", err))
	}
	fmt.Println("neo4j: ok")

	// The Anthropic oracle has no unauthenticated health-check endpoint, so
	// verifying reachability here would mean spending a real API call on
	// every operator's connectivity check. We settle for confirming the key
	// is configured; the first real analysis batch is still the first
	// thing to surface an invalid key.
	if cfg.AnthropicAPIKey == "" {
		return exitErr(2, fmt.Errorf("op=test_connections.anthropic: ANTHROPIC_API_KEY is not set"))
	}
	fmt.Println("anthropic: key configured")

	return nil
}
