package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// DirectorySummaryRepo persists oracle-produced directory descriptions.
type DirectorySummaryRepo struct{ DB *sql.DB }

// NewDirectorySummaryRepo constructs a DirectorySummaryRepo with the given database handle.
func NewDirectorySummaryRepo(db *sql.DB) *DirectorySummaryRepo { return &DirectorySummaryRepo{DB: db} }

// Upsert inserts or updates a directory summary.
func (r *DirectorySummaryRepo) Upsert(ctx domain.Context, d domain.DirectorySummary) error {
	tracer := otel.Tracer("repo.directories")
	ctx, span := tracer.Start(ctx, "directories.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "directory_summaries"),
	)

	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("op=directory.upsert.marshal: %w", err)
	}
	q := `INSERT INTO directory_summaries (directory_path, summary, metadata) VALUES (?,?,?)
	      ON CONFLICT(directory_path) DO UPDATE SET summary=excluded.summary, metadata=excluded.metadata`
	_, err = r.DB.ExecContext(ctx, q, d.DirectoryPath, d.Summary, string(meta))
	if err != nil {
		return fmt.Errorf("op=directory.upsert: %w", err)
	}
	return nil
}

// Get retrieves a directory summary by path.
func (r *DirectorySummaryRepo) Get(ctx domain.Context, directoryPath string) (domain.DirectorySummary, error) {
	tracer := otel.Tracer("repo.directories")
	ctx, span := tracer.Start(ctx, "directories.Get")
	defer span.End()

	row := r.DB.QueryRowContext(ctx, `SELECT directory_path, summary, metadata FROM directory_summaries WHERE directory_path=?`, directoryPath)
	var d domain.DirectorySummary
	var meta string
	if err := row.Scan(&d.DirectoryPath, &d.Summary, &meta); err != nil {
		if err == sql.ErrNoRows {
			return domain.DirectorySummary{}, fmt.Errorf("op=directory.get: %w", domain.ErrNotFound)
		}
		return domain.DirectorySummary{}, fmt.Errorf("op=directory.get: %w", err)
	}
	d.Metadata = map[string]string{}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &d.Metadata)
	}
	return d, nil
}
