package storage

import (
	"database/sql"
	"fmt"
)

// A migration moves the schema from version-1 to version. Each one runs
// inside its own transaction together with its schema_migrations record,
// so a half-applied migration never commits.
type migration struct {
	version int
	name    string
	up      func(tx *sql.Tx) error
}

// The ordered migration registry. Append only; never renumber.
var migrations = []migration{
	{version: 1, name: "navigation_graph", up: migrateV001},
}

// MigrationRunner brings a database up to the current schema version.
type MigrationRunner struct {
	db *sql.DB
}

// NewMigrationRunner creates a runner over the given database.
func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

// Run sets the connection pragmas (WAL for concurrent reads, foreign key
// enforcement), then applies every registered migration newer than the
// recorded schema version.
func (r *MigrationRunner) Run() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := r.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if int64(m.version) <= current.Int64 {
			continue
		}
		if err := r.apply(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}

	return nil
}

func (r *MigrationRunner) apply(m migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.up(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.version, m.name,
	); err != nil {
		return err
	}

	return tx.Commit()
}
