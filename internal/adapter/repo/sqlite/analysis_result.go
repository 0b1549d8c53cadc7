package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// AnalysisResultRepo implements domain.AnalysisResultWriter: it commits one
// file-analysis worker batch — POIs, candidate evidence, the succeeded
// files' terminal status and one outbox event per touched directory — as a
// single transaction, the same execer-based pattern OutboxRepo.InsertTx
// uses to let a domain-row write and its outbox event land atomically.
type AnalysisResultRepo struct{ DB *sql.DB }

// NewAnalysisResultRepo constructs an AnalysisResultRepo with the given database handle.
func NewAnalysisResultRepo(db *sql.DB) *AnalysisResultRepo { return &AnalysisResultRepo{DB: db} }

// CommitAnalysis upserts pois, inserts evidence, marks every id in
// succeededFileIDs as FileAnalyzed, and inserts one outbox event per
// directory in directoryPaths, all within one transaction.
func (r *AnalysisResultRepo) CommitAnalysis(ctx domain.Context, succeededFileIDs []string, pois []domain.POI, evidence []domain.CandidateEvidence, directoryPaths []string) error {
	tracer := otel.Tracer("repo.analysis_result")
	ctx, span := tracer.Start(ctx, "analysis_result.CommitAnalysis")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.Int("analysis.pois", len(pois)),
		attribute.Int("analysis.evidence", len(evidence)),
		attribute.Int("analysis.directories", len(directoryPaths)),
	)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=analysis_result.commit.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, p := range pois {
		if err := upsertPOITx(ctx, tx, p); err != nil {
			return fmt.Errorf("op=analysis_result.commit.poi poi_id=%s: %w", p.PoiID, err)
		}
	}

	for _, e := range evidence {
		if err := insertEvidenceTx(ctx, tx, e); err != nil {
			return fmt.Errorf("op=analysis_result.commit.evidence: %w", err)
		}
	}

	if err := notifyTouchedKeysTx(ctx, tx, evidence); err != nil {
		return fmt.Errorf("op=analysis_result.commit.notify_keys: %w", err)
	}

	for _, id := range succeededFileIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE files SET status=? WHERE id=?`, string(domain.FileAnalyzed), id); err != nil {
			return fmt.Errorf("op=analysis_result.commit.file_status file=%s: %w", id, err)
		}
	}

	for _, dir := range directoryPaths {
		payload, err := json.Marshal(struct {
			DirectoryPath string `json:"directory_path"`
		}{DirectoryPath: dir})
		if err != nil {
			return fmt.Errorf("op=analysis_result.commit.outbox_marshal: %w", err)
		}
		if _, err := InsertTx(ctx, tx, "directory.touched", domain.QueueDirectoryAggregation, payload); err != nil {
			return fmt.Errorf("op=analysis_result.commit.outbox dir=%s: %w", dir, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=analysis_result.commit.commit_tx: %w", err)
	}
	committed = true
	return nil
}

// MarkFailed transitions a file to FileFailed, recording reason. Called
// outside the batch transaction so one bad file never rolls back its
// siblings' successfully committed results.
func (r *AnalysisResultRepo) MarkFailed(ctx domain.Context, fileID, reason string) error {
	tracer := otel.Tracer("repo.analysis_result")
	ctx, span := tracer.Start(ctx, "analysis_result.MarkFailed")
	defer span.End()

	q := `UPDATE files SET status=?, failure_reason=? WHERE id=?`
	if _, err := r.DB.ExecContext(ctx, q, string(domain.FileFailed), reason, fileID); err != nil {
		return fmt.Errorf("op=analysis_result.mark_failed file=%s: %w", fileID, err)
	}
	return nil
}

func upsertPOITx(ctx domain.Context, tx *sql.Tx, p domain.POI) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("op=poi.upsert_tx.marshal: %w", err)
	}
	q := `INSERT INTO pois (poi_id, file_id, type, name, file_path, start_line, end_line, metadata)
	      VALUES (?,?,?,?,?,?,?,?)
	      ON CONFLICT(poi_id) DO UPDATE SET
	        file_id=excluded.file_id, type=excluded.type, name=excluded.name,
	        file_path=excluded.file_path, start_line=excluded.start_line,
	        end_line=excluded.end_line, metadata=excluded.metadata`
	_, err = tx.ExecContext(ctx, q, p.PoiID, p.FileID, string(p.Type), p.Name, p.FilePath, p.StartLine, p.EndLine, string(meta))
	return err
}

// notifyTouchedKeysTx inserts one outbox event per distinct (from, to, type)
// key named by evidence, addressed to the relationship-validated queue, so
// C7 learns which keys changed without having to poll the evidence table on
// a timer. Evidence written directly by C4/C5/C6 never reaches C7/C8
// otherwise, since those stages don't themselves enqueue onto the
// reconciliation chain.
func notifyTouchedKeysTx(ctx domain.Context, tx *sql.Tx, evidence []domain.CandidateEvidence) error {
	seen := make(map[domain.RelationshipKey]bool, len(evidence))
	for _, e := range evidence {
		key := domain.RelationshipKey{FromPoiID: e.FromPoiID, ToPoiID: e.ToPoiID, RelationshipType: e.RelationshipType}
		if seen[key] {
			continue
		}
		seen[key] = true
		payload, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("op=notify_touched_keys.marshal: %w", err)
		}
		if _, err := InsertTx(ctx, tx, "relationship.candidate", domain.QueueRelationshipValidated, payload); err != nil {
			return fmt.Errorf("op=notify_touched_keys.insert: %w", err)
		}
	}
	return nil
}

func insertEvidenceTx(ctx domain.Context, tx *sql.Tx, e domain.CandidateEvidence) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("op=evidence.insert_tx.marshal: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO candidate_evidence (from_poi_id, to_poi_id, relationship_type, evidence_source, confidence, metadata, created_at)
	      VALUES (?,?,?,?,?,?,?)`
	_, err = tx.ExecContext(ctx, q, e.FromPoiID, e.ToPoiID, e.RelationshipType, string(e.EvidenceSource), e.Confidence, string(meta), createdAt)
	return err
}
