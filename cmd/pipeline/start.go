package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/observability"
	"github.com/fairyhunter13/cogtriangulate/internal/config"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
	"github.com/fairyhunter13/cogtriangulate/internal/pipeline"
)

// concurrencyFor maps a queue name to the configured worker concurrency for
// the stage that consumes it, the same explicit per-stage knob a worker
// process's startup sequence reads directly off Config rather than
// deriving from a shared default.
func concurrencyFor(cfg config.Config, queueName string) int {
	switch queueName {
	case domain.QueueFileAnalysis:
		return cfg.WorkerConcurrencyAnalysis
	case domain.QueueDirectoryAggregation, domain.QueueDirectoryResolution:
		return cfg.WorkerConcurrencyDirectory
	case domain.QueueRelationshipResolution:
		return cfg.WorkerConcurrencyRelationship
	case domain.QueueRelationshipValidated:
		return cfg.WorkerConcurrencyValidation
	case domain.QueueReconciliation:
		return cfg.WorkerConcurrencyReconciliation
	case domain.QueueGraphBuilder:
		return cfg.WorkerConcurrencyGraphBuilder
	default:
		return 1
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <target-dir>",
		Short: "Walk a source tree and run every pipeline stage until it drains or is stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(args[0])
		},
	}
}

func runStart(targetDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return exitErr(1, fmt.Errorf("op=start.load_config: %w", err))
	}
	cfg.TargetDirectory = targetDir
	if err := cfg.Validate(); err != nil {
		return exitErr(1, fmt.Errorf("op=start.validate_config: %w", err))
	}

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	pipelineID := ulid.Make().String()
	slog.Info("starting pipeline run", slog.String("pipeline_id", pipelineID), slog.String("target_dir", targetDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.registry.Run(ctx)
	if err := app.registry.Start(ctx, pipelineID, targetDir); err != nil {
		return exitErr(3, fmt.Errorf("op=start.registry_start: %w", err))
	}

	if _, err := app.walker.Walk(ctx, targetDir); err != nil {
		app.registry.Finish(ctx, pipelineID, pipeline.RunFailed, 0, err)
		return exitErr(3, fmt.Errorf("op=start.walk: %w", err))
	}
	app.registry.UpdatePhase(ctx, pipelineID, "file-discovery")

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		app.batcher.Run(groupCtx, cfg.IngestorIntervalMS)
		return nil
	})
	group.Go(func() error {
		app.outboxPub.Run(groupCtx, cfg.IngestorIntervalMS)
		return nil
	})
	for queueName, handler := range app.handlers {
		queueName, handler := queueName, handler
		concurrency := concurrencyFor(cfg, queueName)
		group.Go(func() error {
			if err := app.broker.Consume(groupCtx, queueName, handler, concurrency); err != nil && groupCtx.Err() == nil {
				return fmt.Errorf("op=start.consume queue=%s: %w", queueName, err)
			}
			return nil
		})
	}
	group.Go(func() error {
		syncRunStatus(groupCtx, app, pipelineID, cancel)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("signal received, shutting down pipeline run", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := group.Wait()

	failedJobCount := countDeadLettered(context.Background(), app)
	status := pipeline.RunCompleted
	switch {
	case runErr != nil:
		status = pipeline.RunFailed
	case failedJobCount > 0:
		status = pipeline.RunCompletedWithFailures
	}
	app.registry.Finish(context.Background(), pipelineID, status, failedJobCount, runErr)
	persistRunSnapshot(context.Background(), app, pipelineID)

	if runErr != nil {
		return exitErr(3, fmt.Errorf("op=start.run: %w", runErr))
	}
	if status == pipeline.RunCompletedWithFailures {
		return exitErr(3, fmt.Errorf("op=start.run: %w: %d jobs dead-lettered", domain.ErrInternal, failedJobCount))
	}
	return nil
}

// countDeadLettered is a placeholder hook for a dead-letter-queue length
// check; the broker does not yet expose one, so every run currently
// reports zero and relies on runErr alone to distinguish success from
// failure.
func countDeadLettered(_ context.Context, _ *App) int { return 0 }

// syncRunStatus periodically mirrors the in-memory registry snapshot into
// the sqlite-backed PipelineRunRepository so a `status` or `stop`
// invocation running as a separate process can observe it, and polls the
// persisted stop_requested flag so a `stop` invocation can request this
// run's graceful shutdown.
func syncRunStatus(ctx context.Context, app *App, pipelineID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			persistRunSnapshot(ctx, app, pipelineID)
			if run, found, err := app.pipelineRuns.Get(ctx, pipelineID); err == nil && found && run.StopRequested {
				slog.Info("stop requested for pipeline run", slog.String("pipeline_id", pipelineID))
				cancel()
				return
			}
		}
	}
}

func persistRunSnapshot(ctx context.Context, app *App, pipelineID string) {
	snap, err := app.registry.Status(ctx, pipelineID)
	if err != nil || snap == nil {
		return
	}
	run := domain.PipelineRun{
		PipelineID:      snap.PipelineID,
		TargetDirectory: snap.TargetDirectory,
		Status:          string(snap.Status),
		Phase:           snap.Phase,
		StartedAt:       snap.StartedAt,
		UpdatedAt:       snap.UpdatedAt,
		Error:           snap.Error,
		FailedJobCount:  snap.FailedJobCount,
	}
	if err := app.pipelineRuns.Upsert(ctx, run); err != nil {
		slog.Warn("failed to persist pipeline run snapshot", slog.String("pipeline_id", pipelineID), slog.Any("error", err))
	}
}
