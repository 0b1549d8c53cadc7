package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// OutboxRepo implements the transactional outbox table. Callers that need
// to write an outbox row alongside a state change should reuse an existing
// *sql.Tx by calling InsertTx directly rather than this repo's Insert, which
// opens its own implicit transaction for standalone use.
type OutboxRepo struct{ DB *sql.DB }

// NewOutboxRepo constructs an OutboxRepo with the given database handle.
func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{DB: db} }

// Insert appends an outbox row in its own transaction.
func (r *OutboxRepo) Insert(ctx domain.Context, eventType, queueName string, payload []byte) (int64, error) {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "outbox"),
	)
	return InsertTx(ctx, r.DB, eventType, queueName, payload)
}

// execer is satisfied by both *sql.DB and *sql.Tx, so InsertTx can be
// called either standalone or as part of a larger write transaction (the
// pattern every pipeline worker uses to write its domain row and outbox
// event atomically).
type execer interface {
	ExecContext(ctx domain.Context, query string, args ...any) (sql.Result, error)
}

// InsertTx appends an outbox row using the given execer, so callers can
// pass a *sql.Tx already open for a domain-row write.
func InsertTx(ctx domain.Context, e execer, eventType, queueName string, payload []byte) (int64, error) {
	q := `INSERT INTO outbox (event_type, queue_name, payload, status, created_at) VALUES (?,?,?,?,?)`
	res, err := e.ExecContext(ctx, q, eventType, queueName, payload, string(domain.OutboxPending), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("op=outbox.insert: %w", err)
	}
	if lir, ok := res.(interface{ LastInsertId() (int64, error) }); ok {
		id, err := lir.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("op=outbox.insert.last_insert_id: %w", err)
		}
		return id, nil
	}
	return 0, nil
}

// ListPending returns up to limit unpublished rows, oldest first.
func (r *OutboxRepo) ListPending(ctx domain.Context, limit int) ([]domain.OutboxEvent, error) {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.ListPending")
	defer span.End()

	q := `SELECT id, event_type, queue_name, payload, status, created_at, processed_at
	      FROM outbox WHERE status=? ORDER BY id ASC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, q, string(domain.OutboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("op=outbox.list_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		var status string
		var processedAt sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.QueueName, &ev.Payload, &status, &ev.CreatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("op=outbox.list_pending_scan: %w", err)
		}
		ev.Status = domain.OutboxStatus(status)
		if processedAt.Valid {
			ev.ProcessedAt = &processedAt.Time
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=outbox.list_pending_rows: %w", err)
	}
	return out, nil
}

// MarkPublished records that a row has been handed to the queue broker.
func (r *OutboxRepo) MarkPublished(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.MarkPublished")
	defer span.End()

	q := `UPDATE outbox SET status=?, processed_at=? WHERE id=?`
	_, err := r.DB.ExecContext(ctx, q, string(domain.OutboxPublished), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("op=outbox.mark_published: %w", err)
	}
	return nil
}
