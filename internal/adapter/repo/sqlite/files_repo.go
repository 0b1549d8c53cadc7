package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// FileRepo persists discovered files.
type FileRepo struct{ DB *sql.DB }

// NewFileRepo constructs a FileRepo with the given database handle.
func NewFileRepo(db *sql.DB) *FileRepo { return &FileRepo{DB: db} }

// Create inserts a newly discovered file and returns its id.
func (r *FileRepo) Create(ctx domain.Context, f domain.File) (string, error) {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "files"),
	)

	id := f.ID
	if id == "" {
		id = ulid.Make().String()
	}
	q := `INSERT INTO files (id, path, content_hash, last_modified, status) VALUES (?,?,?,?,?)
	      ON CONFLICT(path) DO UPDATE SET content_hash=excluded.content_hash, last_modified=excluded.last_modified, status=excluded.status`
	_, err := r.DB.ExecContext(ctx, q, id, f.Path, f.ContentHash, f.LastModified.UTC(), string(f.Status))
	if err != nil {
		return "", fmt.Errorf("op=file.create: %w", err)
	}
	return id, nil
}

// UpdateStatus transitions a file to a new lifecycle status.
func (r *FileRepo) UpdateStatus(ctx domain.Context, id string, status domain.FileStatus) error {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "files"),
	)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=file.update_status.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE files SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return fmt.Errorf("op=file.update_status.exec: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("op=file.update_status.rows_affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("op=file.update_status: %w", domain.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=file.update_status.commit: %w", err)
	}
	committed = true
	return nil
}

// Get loads a file by id.
func (r *FileRepo) Get(ctx domain.Context, id string) (domain.File, error) {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "files"),
	)

	q := `SELECT id, path, content_hash, last_modified, status FROM files WHERE id=?`
	row := r.DB.QueryRowContext(ctx, q, id)
	var f domain.File
	var status string
	var lastModified time.Time
	if err := row.Scan(&f.ID, &f.Path, &f.ContentHash, &lastModified, &status); err != nil {
		if err == sql.ErrNoRows {
			return domain.File{}, fmt.Errorf("op=file.get: %w", domain.ErrNotFound)
		}
		return domain.File{}, fmt.Errorf("op=file.get: %w", err)
	}
	f.LastModified = lastModified
	f.Status = domain.FileStatus(status)
	return f, nil
}

// CountByStatus reports how many files currently hold the given status.
func (r *FileRepo) CountByStatus(ctx domain.Context, status domain.FileStatus) (int64, error) {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.CountByStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "files"),
	)

	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE status=?`, string(status))
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=file.count_by_status: %w", err)
	}
	return count, nil
}

// ListByStatus returns up to limit files holding the given status, ordered
// by id for stable pagination.
func (r *FileRepo) ListByStatus(ctx domain.Context, status domain.FileStatus, limit int) ([]domain.File, error) {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.ListByStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "files"),
	)

	q := `SELECT id, path, content_hash, last_modified, status FROM files WHERE status=? ORDER BY id ASC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, q, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("op=file.list_by_status: %w", err)
	}
	defer rows.Close()

	var out []domain.File
	for rows.Next() {
		var f domain.File
		var st string
		var lastModified time.Time
		if err := rows.Scan(&f.ID, &f.Path, &f.ContentHash, &lastModified, &st); err != nil {
			return nil, fmt.Errorf("op=file.list_by_status_scan: %w", err)
		}
		f.LastModified = lastModified
		f.Status = domain.FileStatus(st)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=file.list_by_status_rows: %w", err)
	}
	return out, nil
}
