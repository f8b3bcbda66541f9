// Package db opens the SQLite store holding debug session records.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) the database at path and runs schema
// migrations. The caller owns the returned handle.
func Open(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrent access.
	if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := database.Exec("PRAGMA foreign_keys=ON"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// OpenInMemory opens a fresh in-memory database. Used by tests.
func OpenInMemory() (*sql.DB, error) {
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}
	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func migrate(database *sql.DB) error {
	// pid is deliberately not the primary key: the kernel recycles
	// pids, and ended records are kept.
	schema := `
	CREATE TABLE IF NOT EXISTS debug_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pid INTEGER NOT NULL,
		command TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		end_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_debug_sessions_pid ON debug_sessions(pid);
	CREATE INDEX IF NOT EXISTS idx_debug_sessions_status ON debug_sessions(status);
	`

	if _, err := database.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
