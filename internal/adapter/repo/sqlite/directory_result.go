package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// DirectoryResultRepo implements domain.DirectoryResolutionWriter, mirroring
// AnalysisResultRepo's shape: one transaction per directory resolved,
// covering the directory summary upsert, the intra-directory evidence rows,
// and the outbox event that hands the directory on to C6.
type DirectoryResultRepo struct{ DB *sql.DB }

// NewDirectoryResultRepo constructs a DirectoryResultRepo with the given database handle.
func NewDirectoryResultRepo(db *sql.DB) *DirectoryResultRepo { return &DirectoryResultRepo{DB: db} }

// CommitDirectoryResolution upserts summary, inserts evidence, and inserts
// one outbox event addressed to nextQueue, all within one transaction.
func (r *DirectoryResultRepo) CommitDirectoryResolution(ctx domain.Context, summary domain.DirectorySummary, evidence []domain.CandidateEvidence, nextQueue string, nextPayload []byte) error {
	tracer := otel.Tracer("repo.directory_result")
	ctx, span := tracer.Start(ctx, "directory_result.CommitDirectoryResolution")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("directory.path", summary.DirectoryPath),
		attribute.Int("directory.evidence", len(evidence)),
	)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=directory_result.commit.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	meta, err := json.Marshal(summary.Metadata)
	if err != nil {
		return fmt.Errorf("op=directory_result.commit.summary_marshal: %w", err)
	}
	q := `INSERT INTO directory_summaries (directory_path, summary, metadata) VALUES (?,?,?)
	      ON CONFLICT(directory_path) DO UPDATE SET summary=excluded.summary, metadata=excluded.metadata`
	if _, err := tx.ExecContext(ctx, q, summary.DirectoryPath, summary.Summary, string(meta)); err != nil {
		return fmt.Errorf("op=directory_result.commit.summary: %w", err)
	}

	for _, e := range evidence {
		if err := insertEvidenceTx(ctx, tx, e); err != nil {
			return fmt.Errorf("op=directory_result.commit.evidence: %w", err)
		}
	}

	if err := notifyTouchedKeysTx(ctx, tx, evidence); err != nil {
		return fmt.Errorf("op=directory_result.commit.notify_keys: %w", err)
	}

	if nextQueue != "" {
		if _, err := InsertTx(ctx, tx, "directory.resolved", nextQueue, nextPayload); err != nil {
			return fmt.Errorf("op=directory_result.commit.outbox: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=directory_result.commit.commit_tx: %w", err)
	}
	committed = true
	return nil
}
