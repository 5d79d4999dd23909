package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartVisit records a tab settling on a page. Always inserts a fresh row;
// nothing is ever overwritten. fromPageID may be empty when the visit has
// no known source.
func (s *Store) StartVisit(ctx context.Context, pageID, sessionID, fromPageID string, isBack bool, ts time.Time) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	id := "vs_" + uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (id, page_id, session_id, from_page_id, start_time,
		                    is_back_navigation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, pageID, sessionID, nullableString(fromPageID), fmtTime(ts), isBack, fmtTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("insert visit: %w", err)
	}

	return id, nil
}

// EndVisit sets the visit's end time. Missing visits are a no-op, and an
// end time already recorded only ever moves forward: calling with an
// earlier timestamp leaves the row unchanged, so the operation is
// idempotent under duplicate or out-of-order events.
func (s *Store) EndVisit(ctx context.Context, visitID string, endTime time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	end := fmtTime(endTime)
	_, err := s.db.ExecContext(ctx, `
		UPDATE visits
		SET end_time = ?, updated_at = ?
		WHERE id = ? AND (end_time IS NULL OR end_time < ?)
	`, end, fmtTime(s.now()), visitID, end)
	if err != nil {
		return fmt.Errorf("end visit: %w", err)
	}
	return nil
}

// AddVisitActiveTime adds deltaSeconds to the visit's accumulated active
// time. Active time is only ever incremented by explicit updates, never
// derived from start/end timestamps. Non-positive deltas are rejected.
func (s *Store) AddVisitActiveTime(ctx context.Context, visitID string, deltaSeconds int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if deltaSeconds <= 0 {
		return ErrNonPositiveDelta
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE visits
		SET total_active_time = total_active_time + ?, updated_at = ?
		WHERE id = ?
	`, deltaSeconds, fmtTime(s.now()), visitID)
	if err != nil {
		return fmt.Errorf("add visit active time: %w", err)
	}
	return nil
}

// CloseOpenVisits ends every still-open visit of a session at the given
// time. Used when a session ends with tabs whose removal was never
// observed. Returns the number of visits closed.
func (s *Store) CloseOpenVisits(ctx context.Context, sessionID string, endTime time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE visits
		SET end_time = ?, updated_at = ?
		WHERE session_id = ? AND end_time IS NULL
	`, fmtTime(endTime), fmtTime(s.now()), sessionID)
	if err != nil {
		return 0, fmt.Errorf("close open visits: %w", err)
	}
	return res.RowsAffected()
}

// GetVisit retrieves a visit by ID.
func (s *Store) GetVisit(ctx context.Context, id string) (*Visit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, page_id, session_id, from_page_id, start_time, end_time,
		       total_active_time, is_back_navigation, updated_at
		FROM visits WHERE id = ?
	`, id)

	v, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("visit %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get visit: %w", err)
	}
	return v, nil
}

// VisitsForSession returns all visits within a session, oldest first.
func (s *Store) VisitsForSession(ctx context.Context, sessionID string) ([]Visit, error) {
	return s.queryVisits(ctx, `
		SELECT id, page_id, session_id, from_page_id, start_time, end_time,
		       total_active_time, is_back_navigation, updated_at
		FROM visits WHERE session_id = ? ORDER BY start_time
	`, sessionID)
}

// VisitsUpdatedSince returns visits mutated strictly after the watermark,
// oldest first.
func (s *Store) VisitsUpdatedSince(ctx context.Context, watermark time.Time) ([]Visit, error) {
	return s.queryVisits(ctx, `
		SELECT id, page_id, session_id, from_page_id, start_time, end_time,
		       total_active_time, is_back_navigation, updated_at
		FROM visits WHERE updated_at > ? ORDER BY updated_at
	`, fmtTime(watermark))
}

func (s *Store) queryVisits(ctx context.Context, query string, args ...any) ([]Visit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	visits := []Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

func scanVisit(sc scanner) (*Visit, error) {
	var v Visit
	var fromPage, endTime sql.NullString
	var startTime, updatedAt string
	if err := sc.Scan(
		&v.ID, &v.PageID, &v.SessionID, &fromPage, &startTime, &endTime,
		&v.TotalActiveTime, &v.IsBackNavigation, &updatedAt,
	); err != nil {
		return nil, err
	}

	v.FromPageID = fromPage.String

	var err error
	if v.StartTime, err = parseTimestamp(startTime); err != nil {
		return nil, err
	}
	if v.EndTime, err = scanNullableTime(endTime); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}
