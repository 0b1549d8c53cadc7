package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	neo4jgraph "github.com/fairyhunter13/cogtriangulate/internal/adapter/graph/neo4j"
	"github.com/fairyhunter13/cogtriangulate/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/cogtriangulate/internal/config"

	"github.com/redis/go-redis/v9"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Purge the relational store, queue broker, and graph store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear()
		},
	}
}

func runClear() error {
	cfg, err := config.Load()
	if err != nil {
		return exitErr(1, fmt.Errorf("op=clear.load_config: %w", err))
	}

	ctx := context.Background()

	db, err := sqlite.Open(ctx, cfg.SQLiteDBPath)
	if err != nil {
		return exitErr(2, fmt.Errorf("op=clear.open_db: %w", err))
	}
	defer db.Close()
	if err := sqlite.Migrate(ctx, db); err != nil {
		return exitErr(2, fmt.Errorf("op=clear.migrate: %w", err))
	}
	if err := sqlite.ClearAll(ctx, db); err != nil {
		return exitErr(3, fmt.Errorf("op=clear.sqlite: %w", err))
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return exitErr(1, fmt.Errorf("op=clear.redis_url: %w", err))
	}
	if cfg.RedisPassword != "" {
		redisOpt.Password = cfg.RedisPassword
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()
	if err := redisClient.FlushDB(ctx).Err(); err != nil {
		return exitErr(2, fmt.Errorf("op=clear.redis: %w", err))
	}

	graph, err := neo4jgraph.New(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		return exitErr(2, fmt.Errorf("op=clear.neo4j_connect: %w", err))
	}
	defer graph.Close(ctx)
	if err := graph.Clear(ctx); err != nil {
		return exitErr(3, fmt.Errorf("op=clear.neo4j: %w", err))
	}

	fmt.Println("cleared relational store, queue broker, and graph store")
	return nil
}
