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

// EvidenceRepo persists candidate relationship evidence. Rows are
// append-only: callers never update or delete an existing observation.
type EvidenceRepo struct{ DB *sql.DB }

// NewEvidenceRepo constructs an EvidenceRepo with the given database handle.
func NewEvidenceRepo(db *sql.DB) *EvidenceRepo { return &EvidenceRepo{DB: db} }

// Insert appends one observation and returns its assigned ID.
func (r *EvidenceRepo) Insert(ctx domain.Context, e domain.CandidateEvidence) (int64, error) {
	tracer := otel.Tracer("repo.evidence")
	ctx, span := tracer.Start(ctx, "evidence.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "candidate_evidence"),
	)

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("op=evidence.insert.marshal: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO candidate_evidence (from_poi_id, to_poi_id, relationship_type, evidence_source, confidence, metadata, created_at)
	      VALUES (?,?,?,?,?,?,?)`
	res, err := r.DB.ExecContext(ctx, q, e.FromPoiID, e.ToPoiID, e.RelationshipType, string(e.EvidenceSource), e.Confidence, string(meta), createdAt)
	if err != nil {
		return 0, fmt.Errorf("op=evidence.insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("op=evidence.insert.last_insert_id: %w", err)
	}
	return id, nil
}

// ListByRelationshipKey returns every observation recorded for one
// (from, to, type) tuple, oldest first.
func (r *EvidenceRepo) ListByRelationshipKey(ctx domain.Context, fromPoiID, toPoiID, relationshipType string) ([]domain.CandidateEvidence, error) {
	tracer := otel.Tracer("repo.evidence")
	ctx, span := tracer.Start(ctx, "evidence.ListByRelationshipKey")
	defer span.End()

	q := `SELECT id, from_poi_id, to_poi_id, relationship_type, evidence_source, confidence, metadata, created_at
	      FROM candidate_evidence WHERE from_poi_id=? AND to_poi_id=? AND relationship_type=? ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, q, fromPoiID, toPoiID, relationshipType)
	if err != nil {
		return nil, fmt.Errorf("op=evidence.list_by_key: %w", err)
	}
	defer rows.Close()

	var out []domain.CandidateEvidence
	for rows.Next() {
		var e domain.CandidateEvidence
		var source, meta string
		if err := rows.Scan(&e.ID, &e.FromPoiID, &e.ToPoiID, &e.RelationshipType, &source, &e.Confidence, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=evidence.list_by_key_scan: %w", err)
		}
		e.EvidenceSource = domain.EvidenceSource(source)
		e.Metadata = map[string]string{}
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=evidence.list_by_key_rows: %w", err)
	}
	return out, nil
}

// ListPendingKeys returns relationship keys that have evidence but no
// reconciliation decision yet.
func (r *EvidenceRepo) ListPendingKeys(ctx domain.Context) ([]domain.RelationshipKey, error) {
	tracer := otel.Tracer("repo.evidence")
	ctx, span := tracer.Start(ctx, "evidence.ListPendingKeys")
	defer span.End()

	q := `SELECT DISTINCT e.from_poi_id, e.to_poi_id, e.relationship_type
	      FROM candidate_evidence e
	      LEFT JOIN accepted_relationships a
	        ON a.from_poi_id = e.from_poi_id AND a.to_poi_id = e.to_poi_id AND a.relationship_type = e.relationship_type
	      WHERE a.id IS NULL`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=evidence.list_pending_keys: %w", err)
	}
	defer rows.Close()

	var out []domain.RelationshipKey
	for rows.Next() {
		var k domain.RelationshipKey
		if err := rows.Scan(&k.FromPoiID, &k.ToPoiID, &k.RelationshipType); err != nil {
			return nil, fmt.Errorf("op=evidence.list_pending_keys_scan: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=evidence.list_pending_keys_rows: %w", err)
	}
	return out, nil
}
