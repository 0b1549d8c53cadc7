// Package sqlite provides SQLite-backed adapters for every relational
// repository port. It favors explicit transactions and one OpenTelemetry
// span per call over a query builder, matching the rest of the pipeline's
// adapter layer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO required
)

// Open creates a *sql.DB against the given SQLite file path and applies
// pragmas suited to a single-process, many-goroutine writer (WAL mode, a
// busy timeout instead of SQLITE_BUSY errors under writer contention, and
// foreign key enforcement).
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("op=sqlite.open: %w", err)
	}
	// SQLite allows only one writer at a time; a single *sql.DB with a
	// capped pool avoids "database is locked" thrash under WAL mode.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("op=sqlite.open.pragma: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("op=sqlite.open.ping: %w", err)
	}
	return db, nil
}
