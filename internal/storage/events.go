package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendEvent writes one lifecycle log entry. The event's ID and LoggedAt
// are populated here; everything else comes from the caller. Events are
// immutable once written.
func (s *Store) AppendEvent(ctx context.Context, event *Event) error {
	if err := s.ready(); err != nil {
		return err
	}

	event.ID = "ev_" + uuid.NewString()
	if event.LoggedAt.IsZero() {
		event.LoggedAt = s.now().UTC()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = event.LoggedAt
	}
	if event.Data == "" {
		event.Data = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, operation, session_id, ts, data, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, event.Operation, event.SessionID,
		fmtTime(event.Timestamp), event.Data, fmtTime(event.LoggedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsLoggedSince returns events of one operation logged strictly after
// the watermark, oldest first. An empty operation matches all events.
func (s *Store) EventsLoggedSince(ctx context.Context, operation string, watermark time.Time) ([]Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, operation, session_id, ts, data, logged_at
		FROM events WHERE logged_at > ?
	`
	args := []any{fmtTime(watermark)}
	if operation != "" {
		query += " AND operation = ?"
		args = append(args, operation)
	}
	query += " ORDER BY logged_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var ts, loggedAt string
		if err := rows.Scan(&e.ID, &e.Operation, &e.SessionID, &ts, &e.Data, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		if e.LoggedAt, err = parseTimestamp(loggedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
