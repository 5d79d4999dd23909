package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// GetStats returns aggregate statistics about the local graph.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM pages", &stats.TotalPages},
		{"SELECT COUNT(*) FROM edges", &stats.TotalEdges},
		{"SELECT COUNT(*) FROM visits", &stats.TotalVisits},
		{"SELECT COUNT(*) FROM sessions", &stats.TotalSessions},
		{"SELECT COUNT(*) FROM events", &stats.TotalEvents},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count (%s): %w", c.query, err)
		}
	}

	// Activity range (handle empty DB).
	if stats.TotalVisits > 0 {
		var oldest, newest string
		err := s.db.QueryRowContext(ctx,
			"SELECT MIN(start_time), MAX(start_time) FROM visits",
		).Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("visit time range: %w", err)
		}
		stats.FirstActivity, _ = parseTimestamp(oldest)
		stats.LastActivity, _ = parseTimestamp(newest)
	}

	// Top domains by accumulated visits.
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, SUM(visit_count) AS visits
		FROM pages
		WHERE domain <> ''
		GROUP BY domain ORDER BY visits DESC LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("top domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dc DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Visits); err != nil {
			return nil, err
		}
		stats.TopDomains = append(stats.TopDomains, dc)
	}

	return stats, rows.Err()
}

// PurgeAll deletes every record from every table. Destructive; only the
// purge command calls this.
func (s *Store) PurgeAll(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Children before parents to satisfy foreign keys.
	for _, table := range []string{"events", "visits", "edges", "sessions", "pages"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// DatabaseSize returns the database file size in bytes via pragmas, or 0
// when unavailable.
func (s *Store) DatabaseSize(ctx context.Context) int64 {
	if s.ready() != nil {
		return 0
	}

	var pageCount, pageSize sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount.Int64 * pageSize.Int64
}
