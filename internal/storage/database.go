// Package storage provides SQLite persistence for identities and launch history.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Database wraps the SQLite database connection
type Database struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at the given path
func Open(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the evolver and API requests
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	database := &Database{db: db}

	if err := database.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying sql.DB for advanced operations
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates all necessary tables
func (d *Database) Migrate() error {
	migrations := []string{
		// One identity per profile
		`CREATE TABLE IF NOT EXISTS identities (
			profile_id TEXT PRIMARY KEY,
			id TEXT UNIQUE NOT NULL,
			generation INTEGER NOT NULL DEFAULT 1,
			consistency INTEGER NOT NULL DEFAULT 100,
			traits TEXT NOT NULL,
			behavior TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_mutated_at DATETIME NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Capped mutation log, seq preserves append order
		`CREATE TABLE IF NOT EXISTS identity_mutations (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			field TEXT NOT NULL,
			old_value TEXT NOT NULL,
			new_value TEXT NOT NULL,
			reason TEXT NOT NULL,
			gradual INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (profile_id) REFERENCES identities(profile_id) ON DELETE CASCADE
		)`,

		// Browser sessions
		`CREATE TABLE IF NOT EXISTS launches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			generation INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			closed_at DATETIME,
			exit_error TEXT DEFAULT '',
			requested INTEGER DEFAULT 0
		)`,

		// Indexes for common queries
		`CREATE INDEX IF NOT EXISTS idx_identity_mutations_profile ON identity_mutations(profile_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_last_mutated ON identities(last_mutated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_launches_profile ON launches(profile_id, started_at)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}

// Transaction helper for running operations in a transaction
func (d *Database) Transaction(fn func(*sql.Tx) error) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
