// Package storage owns the durable navigation graph: pages, edges, visits,
// sessions, and the append-only event log, all backed by SQLite. Every
// mutating operation is a single atomic statement, so interleaved callers
// touching the same record cannot observe partial updates.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotReady is returned when the store has not been opened yet.
	// Callers treat it as transient: log a warning and skip, no retry.
	ErrNotReady = errors.New("storage not ready")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNonPositiveDelta is returned for active-time updates with a
	// zero or negative delta.
	ErrNonPositiveDelta = errors.New("active time delta must be positive")
)

// timeFormat stores timestamps as fixed-width UTC strings so that string
// comparison in SQL matches chronological order, including sub-second
// precision. Watermark queries rely on this.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides transactional access to the navigation graph.
//
// Every mutating statement stamps updated_at with the store clock, not
// with the event timestamp it carries: events can arrive late, and a
// mutation stamped below an already-advanced sync watermark would never
// be exported. Domain fields (start_time, end_time, last_visit, ...)
// keep event time.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an already-opened and migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open opens (creating if needed) the SQLite database at path, runs
// migrations, and returns a ready-to-use store. The caller owns closing
// the returned store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	runner := NewMigrationRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return New(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ready guards every operation against use before Open.
func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrNotReady
	}
	return nil
}

// fmtTime formats a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTimestamp tries the storage format plus common SQLite fallbacks.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		timeFormat,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// nullableTime formats an optional timestamp.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

// scanNullableTime converts a nullable column back to *time.Time.
func scanNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableString maps "" to NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// extractDomain pulls the lowercased hostname from a URL string.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
