// Package sqlite stores device-local state (scan history and the sync
// outbox) in an SQLite database through modernc.org/sqlite.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_history (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    id               TEXT NOT NULL UNIQUE,
    identifier       TEXT NOT NULL,
    canonical        TEXT NOT NULL,
    identifier_hash  TEXT NOT NULL,
    web              INTEGER NOT NULL DEFAULT 0,
    domain           TEXT NOT NULL DEFAULT '',
    timestamp        INTEGER NOT NULL,
    duration_ms      INTEGER NOT NULL DEFAULT 0,
    reputation       TEXT,
    community        TEXT,
    computed_verdict TEXT NOT NULL,
    confidence       REAL NOT NULL DEFAULT 0,
    warning          TEXT NOT NULL DEFAULT '',
    non_web          INTEGER NOT NULL DEFAULT 0,
    safety_status    TEXT NOT NULL,
    user_vote        TEXT,
    user_override    INTEGER NOT NULL DEFAULT 0,
    demo             INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_scan_history_hash ON scan_history(identifier_hash);
CREATE INDEX IF NOT EXISTS idx_scan_history_canonical ON scan_history(canonical);

CREATE TABLE IF NOT EXISTS sync_outbox (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    kind            TEXT NOT NULL,
    voter_id        TEXT NOT NULL,
    identifier_hash TEXT NOT NULL,
    verdict         TEXT NOT NULL DEFAULT '',
    voted_at        INTEGER NOT NULL,
    queued_at       INTEGER NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; also keeps ":memory:" on a single shared connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 10000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: schema: %w", err)
		}
	}
	return db, nil
}
