package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the capture database at path, creating the file and its
// tables when missing.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	db.SetMaxOpenConns(1)

	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS captures (
			id           TEXT PRIMARY KEY,
			label        TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'recording',
			chunk_count  INTEGER NOT NULL DEFAULT 0,
			byte_count   INTEGER NOT NULL DEFAULT 0,
			error        TEXT,
			completed_at TEXT,
			created_at   TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS capture_chunks (
			capture_id TEXT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			data       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (capture_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS captures_created_at_idx ON captures(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
