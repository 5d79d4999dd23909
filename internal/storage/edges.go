package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateOrUpdateEdge records a traversal between two pages within a
// session. The first traversal inserts the edge; later ones increment the
// count, advance last_traversal, and sticky-OR the back-navigation flag.
// Uniqueness on (from, to, session) is enforced by the schema, and the
// upsert is one atomic statement.
func (s *Store) CreateOrUpdateEdge(ctx context.Context, fromPageID, toPageID, sessionID string, ts time.Time, isBack bool) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	id := EdgeID(fromPageID, toPageID, sessionID)
	now := fmtTime(ts)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (id, from_page_id, to_page_id, session_id, count,
		                   first_traversal, last_traversal, is_back_navigation)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(from_page_id, to_page_id, session_id) DO UPDATE SET
			count              = count + 1,
			last_traversal     = excluded.last_traversal,
			is_back_navigation = is_back_navigation OR excluded.is_back_navigation
	`, id, fromPageID, toPageID, sessionID, now, now, isBack)
	if err != nil {
		return "", fmt.Errorf("upsert edge: %w", err)
	}

	return id, nil
}

// GetEdge retrieves an edge by its composite key.
func (s *Store) GetEdge(ctx context.Context, fromPageID, toPageID, sessionID string) (*Edge, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var e Edge
	var first, last string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, from_page_id, to_page_id, session_id, count,
		       first_traversal, last_traversal, is_back_navigation
		FROM edges
		WHERE from_page_id = ? AND to_page_id = ? AND session_id = ?
	`, fromPageID, toPageID, sessionID).Scan(
		&e.ID, &e.FromPageID, &e.ToPageID, &e.SessionID, &e.Count,
		&first, &last, &e.IsBackNavigation,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("edge %s->%s: %w", fromPageID, toPageID, ErrNotFound)
		}
		return nil, fmt.Errorf("get edge: %w", err)
	}

	if e.FirstTraversal, err = parseTimestamp(first); err != nil {
		return nil, err
	}
	if e.LastTraversal, err = parseTimestamp(last); err != nil {
		return nil, err
	}
	return &e, nil
}

// EdgesForSession returns all edges recorded within a session.
func (s *Store) EdgesForSession(ctx context.Context, sessionID string) ([]Edge, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_page_id, to_page_id, session_id, count,
		       first_traversal, last_traversal, is_back_navigation
		FROM edges WHERE session_id = ? ORDER BY first_traversal
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	edges := []Edge{}
	for rows.Next() {
		var e Edge
		var first, last string
		if err := rows.Scan(
			&e.ID, &e.FromPageID, &e.ToPageID, &e.SessionID, &e.Count,
			&first, &last, &e.IsBackNavigation,
		); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if e.FirstTraversal, err = parseTimestamp(first); err != nil {
			return nil, err
		}
		if e.LastTraversal, err = parseTimestamp(last); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
