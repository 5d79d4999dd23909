package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertSession creates a new active session starting at ts and returns
// its ID.
func (s *Store) InsertSession(ctx context.Context, ts time.Time) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	id := "ss_" + uuid.NewString()
	start := fmtTime(ts)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, start_time, last_activity_at, is_active, updated_at)
		VALUES (?, ?, ?, 1, ?)
	`, id, start, start, fmtTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	return id, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, start_time, end_time, last_activity_at, total_active_time,
		       is_active, updated_at
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// TouchSession bumps the session's last activity timestamp.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = ?, updated_at = ? WHERE id = ?
	`, fmtTime(at), fmtTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CloseSession marks a session ended. The supplied active-time floor never
// lowers the accumulated total: the stored value becomes
// MAX(existing, floor), so ending is monotonic even when granular
// active-time events were dropped.
func (s *Store) CloseSession(ctx context.Context, id string, endTime time.Time, activeFloorSeconds int64) error {
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = 0,
		    end_time = ?,
		    total_active_time = MAX(total_active_time, ?),
		    updated_at = ?
		WHERE id = ?
	`, fmtTime(endTime), activeFloorSeconds, fmtTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// AddSessionActiveTime adds deltaSeconds to the session's accumulated
// active time. Non-positive deltas are rejected.
func (s *Store) AddSessionActiveTime(ctx context.Context, id string, deltaSeconds int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if deltaSeconds <= 0 {
		return ErrNonPositiveDelta
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET total_active_time = total_active_time + ?, updated_at = ?
		WHERE id = ?
	`, deltaSeconds, fmtTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("add session active time: %w", err)
	}
	return nil
}

// SessionsUpdatedSince returns sessions mutated strictly after the
// watermark, oldest first.
func (s *Store) SessionsUpdatedSince(ctx context.Context, watermark time.Time) ([]Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, last_activity_at, total_active_time,
		       is_active, updated_at
		FROM sessions WHERE updated_at > ? ORDER BY updated_at
	`, fmtTime(watermark))
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func scanSession(sc scanner) (*Session, error) {
	var sess Session
	var endTime sql.NullString
	var startTime, lastActivity, updatedAt string
	if err := sc.Scan(
		&sess.ID, &startTime, &endTime, &lastActivity,
		&sess.TotalActiveTime, &sess.IsActive, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if sess.StartTime, err = parseTimestamp(startTime); err != nil {
		return nil, err
	}
	if sess.EndTime, err = scanNullableTime(endTime); err != nil {
		return nil, err
	}
	if sess.LastActivityAt, err = parseTimestamp(lastActivity); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}
