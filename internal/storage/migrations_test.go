package storage

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationRunner_AppliesSchema(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	for _, table := range []string{"pages", "sessions", "edges", "visits", "events"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrationRunner_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run())
	require.NoError(t, runner.Run())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count, "reruns must not re-record migrations")
}

func TestMigrationRunner_EnforcesUniqueness(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewMigrationRunner(db).Run())

	_, err = db.Exec(`INSERT INTO pages (id, url, first_visit, last_visit, updated_at)
		VALUES ('pg_1', 'https://example.com/', '2026-01-01', '2026-01-01', '2026-01-01')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO pages (id, url, first_visit, last_visit, updated_at)
		VALUES ('pg_2', 'https://example.com/', '2026-01-01', '2026-01-01', '2026-01-01')`)
	assert.Error(t, err, "url uniqueness is schema-enforced")
}
