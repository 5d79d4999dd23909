package coldsync

import (
	"time"

	"github.com/runnerr0/trailgraph/internal/storage"
)

// Wire records mirror the remote batch API schema: stable snake_case field
// names, timestamps as RFC3339 strings, and the authenticated user id
// stamped on every record. The receiver deduplicates by id, which is what
// makes at-least-once delivery safe.

type wirePage struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	URL           string  `json:"url"`
	Domain        string  `json:"domain"`
	Title         string  `json:"title"`
	FirstVisit    string  `json:"first_visit"`
	LastVisit     string  `json:"last_visit"`
	VisitCount    int64   `json:"visit_count"`
	ActiveSeconds int64   `json:"active_seconds"`
	PersonalScore float64 `json:"personal_score"`
}

type wireVisit struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	PageID        string `json:"page_id"`
	SessionID     string `json:"session_id"`
	FromPageID    string `json:"from_page_id,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time,omitempty"`
	ActiveSeconds int64  `json:"active_seconds"`
	IsBack        bool   `json:"is_back_navigation"`
}

type wireSession struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time,omitempty"`
	LastActivityAt string `json:"last_activity_at"`
	ActiveSeconds  int64  `json:"active_seconds"`
	IsActive       bool   `json:"is_active"`
}

type wireSearchClick struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      string `json:"data"`
}

func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func wireTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return wireTime(*t)
}

func toWirePages(pages []storage.Page, userID string) []any {
	out := make([]any, 0, len(pages))
	for _, p := range pages {
		out = append(out, wirePage{
			ID:            p.ID,
			UserID:        userID,
			URL:           p.URL,
			Domain:        p.Domain,
			Title:         p.Title,
			FirstVisit:    wireTime(p.FirstVisit),
			LastVisit:     wireTime(p.LastVisit),
			VisitCount:    p.VisitCount,
			ActiveSeconds: p.TotalActiveTime,
			PersonalScore: p.PersonalScore,
		})
	}
	return out
}

func toWireVisits(visits []storage.Visit, userID string) []any {
	out := make([]any, 0, len(visits))
	for _, v := range visits {
		out = append(out, wireVisit{
			ID:            v.ID,
			UserID:        userID,
			PageID:        v.PageID,
			SessionID:     v.SessionID,
			FromPageID:    v.FromPageID,
			StartTime:     wireTime(v.StartTime),
			EndTime:       wireTimePtr(v.EndTime),
			ActiveSeconds: v.TotalActiveTime,
			IsBack:        v.IsBackNavigation,
		})
	}
	return out
}

func toWireSessions(sessions []storage.Session, userID string) []any {
	out := make([]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, wireSession{
			ID:             sess.ID,
			UserID:         userID,
			StartTime:      wireTime(sess.StartTime),
			EndTime:        wireTimePtr(sess.EndTime),
			LastActivityAt: wireTime(sess.LastActivityAt),
			ActiveSeconds:  sess.TotalActiveTime,
			IsActive:       sess.IsActive,
		})
	}
	return out
}

func toWireSearchClicks(events []storage.Event, userID string) []any {
	out := make([]any, 0, len(events))
	for _, e := range events {
		out = append(out, wireSearchClick{
			ID:        e.ID,
			UserID:    userID,
			SessionID: e.SessionID,
			Timestamp: wireTime(e.Timestamp),
			Data:      e.Data,
		})
	}
	return out
}
