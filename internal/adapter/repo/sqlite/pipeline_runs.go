package sqlite

import (
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// PipelineRunRepo implements domain.PipelineRunRepository: the only part of
// the schema a `status` or `stop` invocation touches, since those commands
// run as their own process and never share the in-memory registry actor
// `start` owns.
type PipelineRunRepo struct{ DB *sql.DB }

// NewPipelineRunRepo constructs a PipelineRunRepo with the given database handle.
func NewPipelineRunRepo(db *sql.DB) *PipelineRunRepo { return &PipelineRunRepo{DB: db} }

// Upsert writes the current snapshot for one pipeline run.
func (r *PipelineRunRepo) Upsert(ctx domain.Context, run domain.PipelineRun) error {
	tracer := otel.Tracer("repo.pipeline_runs")
	ctx, span := tracer.Start(ctx, "pipeline_runs.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "sqlite"), attribute.String("pipeline.id", run.PipelineID))

	q := `INSERT INTO pipeline_runs (pipeline_id, target_directory, status, phase, started_at, updated_at, error, failed_job_count, stop_requested)
	      VALUES (?,?,?,?,?,?,?,?,?)
	      ON CONFLICT(pipeline_id) DO UPDATE SET
	        status=excluded.status, phase=excluded.phase, updated_at=excluded.updated_at,
	        error=excluded.error, failed_job_count=excluded.failed_job_count`
	stopRequested := 0
	if run.StopRequested {
		stopRequested = 1
	}
	_, err := r.DB.ExecContext(ctx, q, run.PipelineID, run.TargetDirectory, run.Status, run.Phase,
		run.StartedAt, run.UpdatedAt, run.Error, run.FailedJobCount, stopRequested)
	if err != nil {
		return fmt.Errorf("op=pipeline_runs.upsert pipeline_id=%s: %w", run.PipelineID, err)
	}
	return nil
}

// Get retrieves one run by id.
func (r *PipelineRunRepo) Get(ctx domain.Context, pipelineID string) (domain.PipelineRun, bool, error) {
	tracer := otel.Tracer("repo.pipeline_runs")
	ctx, span := tracer.Start(ctx, "pipeline_runs.Get")
	defer span.End()

	q := `SELECT pipeline_id, target_directory, status, phase, started_at, updated_at, error, failed_job_count, stop_requested
	      FROM pipeline_runs WHERE pipeline_id=?`
	var run domain.PipelineRun
	var stopRequested int
	err := r.DB.QueryRowContext(ctx, q, pipelineID).Scan(
		&run.PipelineID, &run.TargetDirectory, &run.Status, &run.Phase,
		&run.StartedAt, &run.UpdatedAt, &run.Error, &run.FailedJobCount, &stopRequested)
	if err == sql.ErrNoRows {
		return domain.PipelineRun{}, false, nil
	}
	if err != nil {
		return domain.PipelineRun{}, false, fmt.Errorf("op=pipeline_runs.get pipeline_id=%s: %w", pipelineID, err)
	}
	run.StopRequested = stopRequested != 0
	return run, true, nil
}

// RequestStop flags a run for graceful shutdown.
func (r *PipelineRunRepo) RequestStop(ctx domain.Context, pipelineID string) error {
	tracer := otel.Tracer("repo.pipeline_runs")
	ctx, span := tracer.Start(ctx, "pipeline_runs.RequestStop")
	defer span.End()

	res, err := r.DB.ExecContext(ctx, `UPDATE pipeline_runs SET stop_requested=1 WHERE pipeline_id=?`, pipelineID)
	if err != nil {
		return fmt.Errorf("op=pipeline_runs.request_stop pipeline_id=%s: %w", pipelineID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("op=pipeline_runs.request_stop.rows_affected pipeline_id=%s: %w", pipelineID, err)
	}
	if n == 0 {
		return fmt.Errorf("op=pipeline_runs.request_stop pipeline_id=%s: %w", pipelineID, domain.ErrNotFound)
	}
	return nil
}

// Clear discards every persisted run record.
func (r *PipelineRunRepo) Clear(ctx domain.Context) error {
	tracer := otel.Tracer("repo.pipeline_runs")
	ctx, span := tracer.Start(ctx, "pipeline_runs.Clear")
	defer span.End()

	if _, err := r.DB.ExecContext(ctx, `DELETE FROM pipeline_runs`); err != nil {
		return fmt.Errorf("op=pipeline_runs.clear: %w", err)
	}
	return nil
}
