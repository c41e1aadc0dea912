package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB is the upload history database
type DB struct {
	conn *sql.DB
}

// Open opens the history database in dir and initializes the schema
func Open(dir string) (*DB, error) {
	return OpenFile(filepath.Join(dir, "clipkb.db"))
}

// OpenFile opens the database at path
func OpenFile(path string) (*DB, error) {
	// times are stored in a format SQLite date functions understand;
	// busy_timeout applies to every pooled connection
	dsn := path + "?_time_format=sqlite&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the database schema
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		activation_id TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		hotkey TEXT NOT NULL,

		-- Capture
		capture_source TEXT NOT NULL,
		character_count INTEGER NOT NULL,
		word_count INTEGER NOT NULL,
		preview TEXT NOT NULL,

		-- Destination
		knowledge_base_id TEXT NOT NULL,
		document_id TEXT NOT NULL,

		-- Timing metrics
		capture_latency_ms INTEGER NOT NULL,
		upload_latency_ms INTEGER NOT NULL,
		total_latency_ms INTEGER NOT NULL,

		-- Outcome
		outcome TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_timestamp ON uploads(timestamp);
	CREATE INDEX IF NOT EXISTS idx_uploads_outcome ON uploads(outcome);
	CREATE INDEX IF NOT EXISTS idx_uploads_success ON uploads(success);
	`

	_, err := db.conn.Exec(schema)
	return err
}
