package sqlite

import (
	"context"
	"fmt"

	"database/sql"
)

// schema is applied idempotently at startup; there is no migration runner
// because the pipeline owns a single private database file per run rather
// than a shared, long-lived schema.
const schema = `
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	content_hash TEXT NOT NULL,
	last_modified DATETIME NOT NULL,
	status TEXT NOT NULL,
	failure_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);

CREATE TABLE IF NOT EXISTS pois (
	poi_id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_pois_file ON pois(file_id);
CREATE INDEX IF NOT EXISTS idx_pois_path ON pois(file_path);

CREATE TABLE IF NOT EXISTS candidate_evidence (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_poi_id TEXT NOT NULL,
	to_poi_id TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	evidence_source TEXT NOT NULL,
	confidence REAL NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_key ON candidate_evidence(from_poi_id, to_poi_id, relationship_type);

CREATE TABLE IF NOT EXISTS accepted_relationships (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_poi_id TEXT NOT NULL,
	to_poi_id TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	UNIQUE(from_poi_id, to_poi_id, relationship_type)
);

CREATE TABLE IF NOT EXISTS directory_summaries (
	directory_path TEXT PRIMARY KEY,
	summary TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	queue_name TEXT NOT NULL,
	payload BLOB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	processed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(status, id);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	pipeline_id TEXT PRIMARY KEY,
	target_directory TEXT NOT NULL,
	status TEXT NOT NULL,
	phase TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	failed_job_count INTEGER NOT NULL DEFAULT 0,
	stop_requested INTEGER NOT NULL DEFAULT 0
);
`

// Migrate applies the pipeline's schema. Safe to call on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("op=sqlite.migrate: %w", err)
	}
	return nil
}

// clearableTables lists every table a `clear` invocation empties. It
// deliberately excludes pipeline_runs: clearing the relational/graph/queue
// stores for a fresh whole-tree sweep is independent of whether past run
// records are retained for `status` lookups.
var clearableTables = []string{
	"outbox",
	"directory_summaries",
	"accepted_relationships",
	"candidate_evidence",
	"pois",
	"files",
}

// ClearAll truncates every relational table a pipeline run populates,
// backing the `clear` CLI subcommand's "purge all three stores" contract
// for the sqlite side.
func ClearAll(ctx context.Context, db *sql.DB) error {
	for _, table := range clearableTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("op=sqlite.clear_all table=%s: %w", table, err)
		}
	}
	return nil
}
