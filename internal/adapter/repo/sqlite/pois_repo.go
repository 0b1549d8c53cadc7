package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// POIRepo persists points of interest extracted from source files.
type POIRepo struct{ DB *sql.DB }

// NewPOIRepo constructs a POIRepo with the given database handle.
func NewPOIRepo(db *sql.DB) *POIRepo { return &POIRepo{DB: db} }

// Upsert inserts or updates a POI, keyed by its stable PoiID.
func (r *POIRepo) Upsert(ctx domain.Context, p domain.POI) error {
	tracer := otel.Tracer("repo.pois")
	ctx, span := tracer.Start(ctx, "pois.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "pois"),
	)

	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("op=poi.upsert.marshal: %w", err)
	}
	q := `INSERT INTO pois (poi_id, file_id, type, name, file_path, start_line, end_line, metadata)
	      VALUES (?,?,?,?,?,?,?,?)
	      ON CONFLICT(poi_id) DO UPDATE SET
	        file_id=excluded.file_id, type=excluded.type, name=excluded.name,
	        file_path=excluded.file_path, start_line=excluded.start_line,
	        end_line=excluded.end_line, metadata=excluded.metadata`
	_, err = r.DB.ExecContext(ctx, q, p.PoiID, p.FileID, string(p.Type), p.Name, p.FilePath, p.StartLine, p.EndLine, string(meta))
	if err != nil {
		return fmt.Errorf("op=poi.upsert: %w", err)
	}
	return nil
}

// Get loads a POI by id.
func (r *POIRepo) Get(ctx domain.Context, poiID string) (domain.POI, error) {
	tracer := otel.Tracer("repo.pois")
	ctx, span := tracer.Start(ctx, "pois.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "sqlite"), attribute.String("db.sql.table", "pois"))

	row := r.DB.QueryRowContext(ctx, `SELECT poi_id, file_id, type, name, file_path, start_line, end_line, metadata FROM pois WHERE poi_id=?`, poiID)
	p, err := scanPOI(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.POI{}, fmt.Errorf("op=poi.get: %w", domain.ErrNotFound)
		}
		return domain.POI{}, fmt.Errorf("op=poi.get: %w", err)
	}
	return p, nil
}

// Exists reports whether a POI with the given ID has been recorded.
func (r *POIRepo) Exists(ctx domain.Context, poiID string) (bool, error) {
	tracer := otel.Tracer("repo.pois")
	ctx, span := tracer.Start(ctx, "pois.Exists")
	defer span.End()

	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM pois WHERE poi_id=?`, poiID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("op=poi.exists: %w", err)
	}
	return true, nil
}

// ListByDirectory returns every POI whose file lives under directoryPath.
func (r *POIRepo) ListByDirectory(ctx domain.Context, directoryPath string) ([]domain.POI, error) {
	tracer := otel.Tracer("repo.pois")
	ctx, span := tracer.Start(ctx, "pois.ListByDirectory")
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `SELECT poi_id, file_id, type, name, file_path, start_line, end_line, metadata FROM pois WHERE file_path LIKE ? || '%'`, directoryPath)
	if err != nil {
		return nil, fmt.Errorf("op=poi.list_by_directory: %w", err)
	}
	defer rows.Close()
	return scanPOIRows(rows, "op=poi.list_by_directory")
}

// ListByFile returns every POI extracted from the given file.
func (r *POIRepo) ListByFile(ctx domain.Context, fileID string) ([]domain.POI, error) {
	tracer := otel.Tracer("repo.pois")
	ctx, span := tracer.Start(ctx, "pois.ListByFile")
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `SELECT poi_id, file_id, type, name, file_path, start_line, end_line, metadata FROM pois WHERE file_id=?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("op=poi.list_by_file: %w", err)
	}
	defer rows.Close()
	return scanPOIRows(rows, "op=poi.list_by_file")
}

// SampleCrossDirectory returns up to limit POIs drawn from directories other
// than excludeDirectoryPath, randomly ordered, for C6's cross-directory
// sampling. SQLite's ORDER BY RANDOM() is a full-table shuffle, acceptable
// at the POI-table scale this pipeline targets.
func (r *POIRepo) SampleCrossDirectory(ctx domain.Context, excludeDirectoryPath string, limit int) ([]domain.POI, error) {
	tracer := otel.Tracer("repo.pois")
	ctx, span := tracer.Start(ctx, "pois.SampleCrossDirectory")
	defer span.End()

	q := `SELECT poi_id, file_id, type, name, file_path, start_line, end_line, metadata
	      FROM pois WHERE file_path NOT LIKE ? || '%' ORDER BY RANDOM() LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, q, excludeDirectoryPath, limit)
	if err != nil {
		return nil, fmt.Errorf("op=poi.sample_cross_directory: %w", err)
	}
	defer rows.Close()
	return scanPOIRows(rows, "op=poi.sample_cross_directory")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPOI(row rowScanner) (domain.POI, error) {
	var p domain.POI
	var typ, meta string
	if err := row.Scan(&p.PoiID, &p.FileID, &typ, &p.Name, &p.FilePath, &p.StartLine, &p.EndLine, &meta); err != nil {
		return domain.POI{}, err
	}
	p.Type = domain.POIType(typ)
	p.Metadata = map[string]string{}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &p.Metadata)
	}
	return p, nil
}

func scanPOIRows(rows *sql.Rows, op string) ([]domain.POI, error) {
	var out []domain.POI
	for rows.Next() {
		p, err := scanPOI(rows)
		if err != nil {
			return nil, fmt.Errorf("%s_scan: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s_rows: %w", op, err)
	}
	return out, nil
}
