package storage

import "database/sql"

// migrateV001 creates the initial trailgraph schema: graph tables, the
// event log, and all indexes. Every statement uses IF NOT EXISTS for
// idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS pages (
			id                TEXT PRIMARY KEY,
			url               TEXT NOT NULL UNIQUE,
			domain            TEXT NOT NULL DEFAULT '',
			title             TEXT NOT NULL DEFAULT '',
			first_visit       DATETIME NOT NULL,
			last_visit        DATETIME NOT NULL,
			visit_count       INTEGER NOT NULL DEFAULT 1,
			total_active_time INTEGER NOT NULL DEFAULT 0,
			personal_score    REAL NOT NULL DEFAULT 0,
			sync_status       TEXT NOT NULL DEFAULT 'local',
			updated_at        DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			start_time        DATETIME NOT NULL,
			end_time          DATETIME,
			last_activity_at  DATETIME NOT NULL,
			total_active_time INTEGER NOT NULL DEFAULT 0,
			is_active         BOOLEAN NOT NULL DEFAULT 1,
			updated_at        DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS edges (
			id                 TEXT PRIMARY KEY,
			from_page_id       TEXT NOT NULL REFERENCES pages(id),
			to_page_id         TEXT NOT NULL REFERENCES pages(id),
			session_id         TEXT NOT NULL REFERENCES sessions(id),
			count              INTEGER NOT NULL DEFAULT 1,
			first_traversal    DATETIME NOT NULL,
			last_traversal     DATETIME NOT NULL,
			is_back_navigation BOOLEAN NOT NULL DEFAULT 0,
			UNIQUE(from_page_id, to_page_id, session_id)
		)`,

		`CREATE TABLE IF NOT EXISTS visits (
			id                 TEXT PRIMARY KEY,
			page_id            TEXT NOT NULL REFERENCES pages(id),
			session_id         TEXT NOT NULL REFERENCES sessions(id),
			from_page_id       TEXT REFERENCES pages(id),
			start_time         DATETIME NOT NULL,
			end_time           DATETIME,
			total_active_time  INTEGER NOT NULL DEFAULT 0,
			is_back_navigation BOOLEAN NOT NULL DEFAULT 0,
			updated_at         DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			operation  TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			ts         DATETIME NOT NULL,
			data       TEXT NOT NULL DEFAULT '{}',
			logged_at  DATETIME NOT NULL
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_pages_domain      ON pages(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_updated_at  ON pages(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated  ON sessions(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_active   ON sessions(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_session     ON edges(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from        ON edges(from_page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_session    ON visits(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_page       ON visits(page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_updated    ON visits(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_open       ON visits(session_id, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_logged_at  ON events(logged_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_op_logged  ON events(operation, logged_at)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
