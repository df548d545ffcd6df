package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite handle shared by the settings, account and event
// cache stores.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the calhub database at path.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path += "?_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	d := &DB{db: db}
	if err := d.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return d, nil
}

func (d *DB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		calendar_sources TEXT,
		selected_cals TEXT,
		power_automate_url TEXT,
		timezone TEXT,
		source_hash TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS oauth_accounts (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT,
		refresh_token TEXT,
		expires_at INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, provider)
	);

	CREATE TABLE IF NOT EXISTS cached_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		source TEXT NOT NULL,
		calendar_id TEXT NOT NULL DEFAULT '',
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		events BLOB NOT NULL,
		last_updated DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cached_events_user ON cached_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_cached_events_window ON cached_events(user_id, source, calendar_id, start_date, end_date);
	`

	_, err := d.db.Exec(schema)
	return err
}

// SQL exposes the underlying handle for stores layered on top.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
