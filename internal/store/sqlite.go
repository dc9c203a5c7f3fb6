// Package store persists crowd records in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"crowdwatch/internal/logger"
)

// DB wraps the SQLite connection with thread-safe access. A single
// connection plus WAL keeps writers from tripping over readers.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info("Store", "Database ready: %s", dbPath)
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crowd_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL UNIQUE,
		person_count INTEGER NOT NULL,
		weekday INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_crowd_records_weekday ON crowd_records(weekday);
	CREATE INDEX IF NOT EXISTS idx_crowd_records_timestamp ON crowd_records(timestamp);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
