package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateOrGetPage resolves a canonical URL to its page record, inserting it
// on first sight. The existence check and the update run as one statement:
// an existing row gets last_visit and updated_at advanced, visit_count
// incremented, and the title replaced only when the new one is non-empty.
// The returned ID is the same on both paths because page identity is
// derived from the URL.
func (s *Store) CreateOrGetPage(ctx context.Context, canonicalURL, title string, ts time.Time) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	id := PageID(canonicalURL)
	visit := fmtTime(ts)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (id, url, domain, title, first_visit, last_visit, visit_count, sync_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			last_visit  = excluded.last_visit,
			visit_count = visit_count + 1,
			title       = CASE WHEN excluded.title <> '' THEN excluded.title ELSE pages.title END,
			sync_status = excluded.sync_status,
			updated_at  = excluded.updated_at
	`, id, canonicalURL, extractDomain(canonicalURL), title, visit, visit, SyncStatusLocal, fmtTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("upsert page: %w", err)
	}

	return id, nil
}

// GetPage retrieves a page by ID.
func (s *Store) GetPage(ctx context.Context, id string) (*Page, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, domain, title, first_visit, last_visit, visit_count,
		       total_active_time, personal_score, sync_status, updated_at
		FROM pages WHERE id = ?
	`, id)

	p, err := scanPage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// GetPageByURL retrieves a page by its canonical URL.
func (s *Store) GetPageByURL(ctx context.Context, canonicalURL string) (*Page, error) {
	return s.GetPage(ctx, PageID(canonicalURL))
}

// AddPageActiveTime adds deltaSeconds to the page's accumulated active
// time. Non-positive deltas are rejected.
func (s *Store) AddPageActiveTime(ctx context.Context, pageID string, deltaSeconds int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if deltaSeconds <= 0 {
		return ErrNonPositiveDelta
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET total_active_time = total_active_time + ?, sync_status = ?, updated_at = ?
		WHERE id = ?
	`, deltaSeconds, SyncStatusLocal, fmtTime(s.now()), pageID)
	if err != nil {
		return fmt.Errorf("add page active time: %w", err)
	}
	return nil
}

// MarkPagesSynced flags every page a completed sync run exported, meaning
// pages not mutated after the run started. updated_at is left untouched so
// the flag flip does not pull the rows back into the next export window.
func (s *Store) MarkPagesSynced(ctx context.Context, runStart time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE pages SET sync_status = ?
		WHERE updated_at <= ? AND sync_status <> ?
	`, SyncStatusSynced, fmtTime(runStart), SyncStatusSynced)
	if err != nil {
		return fmt.Errorf("mark pages synced: %w", err)
	}
	return nil
}

// PagesUpdatedSince returns pages mutated strictly after the watermark,
// oldest first.
func (s *Store) PagesUpdatedSince(ctx context.Context, watermark time.Time) ([]Page, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, domain, title, first_visit, last_visit, visit_count,
		       total_active_time, personal_score, sync_status, updated_at
		FROM pages
		WHERE updated_at > ?
		ORDER BY updated_at
	`, fmtTime(watermark))
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	pages := []Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPage(sc scanner) (*Page, error) {
	var p Page
	var firstVisit, lastVisit, updatedAt string
	if err := sc.Scan(
		&p.ID, &p.URL, &p.Domain, &p.Title, &firstVisit, &lastVisit,
		&p.VisitCount, &p.TotalActiveTime, &p.PersonalScore, &p.SyncStatus, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.FirstVisit, err = parseTimestamp(firstVisit); err != nil {
		return nil, err
	}
	if p.LastVisit, err = parseTimestamp(lastVisit); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
