package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/cogtriangulate/internal/config"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <pipeline-id>",
		Short: "Request graceful shutdown of a running pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(args[0])
		},
	}
}

func runStop(pipelineID string) error {
	cfg, err := config.Load()
	if err != nil {
		return exitErr(1, fmt.Errorf("op=stop.load_config: %w", err))
	}

	ctx := context.Background()
	db, err := sqlite.Open(ctx, cfg.SQLiteDBPath)
	if err != nil {
		return exitErr(2, fmt.Errorf("op=stop.open_db: %w", err))
	}
	defer db.Close()

	repo := sqlite.NewPipelineRunRepo(db)
	if err := repo.RequestStop(ctx, pipelineID); err != nil {
		return exitErr(3, fmt.Errorf("op=stop.request: %w", err))
	}
	fmt.Printf("stop requested for pipeline %s\n", pipelineID)
	return nil
}
