package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// RelationshipRepo persists reconciled, accepted relationships.
type RelationshipRepo struct{ DB *sql.DB }

// NewRelationshipRepo constructs a RelationshipRepo with the given database handle.
func NewRelationshipRepo(db *sql.DB) *RelationshipRepo { return &RelationshipRepo{DB: db} }

// Upsert inserts or updates an accepted relationship in its own transaction.
func (r *RelationshipRepo) Upsert(ctx domain.Context, rel domain.AcceptedRelationship) error {
	tracer := otel.Tracer("repo.relationships")
	ctx, span := tracer.Start(ctx, "relationships.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "accepted_relationships"),
	)

	if err := upsertRelationshipTx(ctx, r.DB, rel); err != nil {
		return fmt.Errorf("op=relationship.upsert: %w", err)
	}
	return nil
}

// UpsertAndNotify upserts rel and inserts the graph-builder outbox event in
// one transaction, mirroring AnalysisResultRepo.CommitAnalysis's
// write-row-and-outbox-row-together shape so a crash between the two writes
// can never leave an accepted relationship permanently unannounced.
func (r *RelationshipRepo) UpsertAndNotify(ctx domain.Context, rel domain.AcceptedRelationship, eventType, queueName string, payload []byte) error {
	tracer := otel.Tracer("repo.relationships")
	ctx, span := tracer.Start(ctx, "relationships.UpsertAndNotify")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "accepted_relationships"),
	)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=relationship.upsert_and_notify.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := upsertRelationshipTx(ctx, tx, rel); err != nil {
		return fmt.Errorf("op=relationship.upsert_and_notify.upsert: %w", err)
	}
	if _, err := InsertTx(ctx, tx, eventType, queueName, payload); err != nil {
		return fmt.Errorf("op=relationship.upsert_and_notify.outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=relationship.upsert_and_notify.commit_tx: %w", err)
	}
	committed = true
	return nil
}

func upsertRelationshipTx(ctx domain.Context, e execer, rel domain.AcceptedRelationship) error {
	meta, err := json.Marshal(rel.Metadata)
	if err != nil {
		return fmt.Errorf("op=relationship.upsert_tx.marshal: %w", err)
	}
	q := `INSERT INTO accepted_relationships (from_poi_id, to_poi_id, relationship_type, confidence_score, metadata)
	      VALUES (?,?,?,?,?)
	      ON CONFLICT(from_poi_id, to_poi_id, relationship_type)
	      DO UPDATE SET confidence_score=excluded.confidence_score, metadata=excluded.metadata`
	_, err = e.ExecContext(ctx, q, rel.FromPoiID, rel.ToPoiID, rel.RelationshipType, rel.ConfidenceScore, string(meta))
	return err
}

// Get retrieves an accepted relationship by its key, if one exists.
func (r *RelationshipRepo) Get(ctx domain.Context, fromPoiID, toPoiID, relationshipType string) (domain.AcceptedRelationship, bool, error) {
	tracer := otel.Tracer("repo.relationships")
	ctx, span := tracer.Start(ctx, "relationships.Get")
	defer span.End()

	q := `SELECT id, from_poi_id, to_poi_id, relationship_type, confidence_score, metadata
	      FROM accepted_relationships WHERE from_poi_id=? AND to_poi_id=? AND relationship_type=?`
	row := r.DB.QueryRowContext(ctx, q, fromPoiID, toPoiID, relationshipType)
	var rel domain.AcceptedRelationship
	var meta string
	if err := row.Scan(&rel.ID, &rel.FromPoiID, &rel.ToPoiID, &rel.RelationshipType, &rel.ConfidenceScore, &meta); err != nil {
		if err == sql.ErrNoRows {
			return domain.AcceptedRelationship{}, false, nil
		}
		return domain.AcceptedRelationship{}, false, fmt.Errorf("op=relationship.get: %w", err)
	}
	rel.Metadata = map[string]string{}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &rel.Metadata)
	}
	return rel, true, nil
}
