package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/cogtriangulate/internal/config"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <pipeline-id>",
		Short: "Print the last known status of a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(args[0])
		},
	}
}

func runStatus(pipelineID string) error {
	cfg, err := config.Load()
	if err != nil {
		return exitErr(1, fmt.Errorf("op=status.load_config: %w", err))
	}

	ctx := context.Background()
	db, err := sqlite.Open(ctx, cfg.SQLiteDBPath)
	if err != nil {
		return exitErr(2, fmt.Errorf("op=status.open_db: %w", err))
	}
	defer db.Close()

	repo := sqlite.NewPipelineRunRepo(db)
	run, found, err := repo.Get(ctx, pipelineID)
	if err != nil {
		return exitErr(2, fmt.Errorf("op=status.get: %w", err))
	}
	if !found {
		return exitErr(3, fmt.Errorf("op=status.get pipeline_id=%s: %w", pipelineID, domain.ErrNotFound))
	}

	fmt.Printf("pipeline_id: %s\n", run.PipelineID)
	fmt.Printf("target_directory: %s\n", run.TargetDirectory)
	fmt.Printf("status: %s\n", run.Status)
	fmt.Printf("phase: %s\n", run.Phase)
	fmt.Printf("started_at: %s\n", run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("updated_at: %s\n", run.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	if run.FailedJobCount > 0 {
		fmt.Printf("failed_job_count: %d\n", run.FailedJobCount)
	}
	if run.Error != "" {
		fmt.Printf("error: %s\n", run.Error)
	}
	return nil
}
