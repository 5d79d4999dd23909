package storage

import "time"

// Page is the canonical record for a distinct URL. At most one Page exists
// per canonical URL; its ID is derived from the URL and never changes.
type Page struct {
	ID              string
	URL             string
	Domain          string
	Title           string
	FirstVisit      time.Time
	LastVisit       time.Time
	VisitCount      int64
	TotalActiveTime int64 // seconds
	PersonalScore   float64
	SyncStatus      string
	UpdatedAt       time.Time
}

// Edge is a directed, session-scoped navigation transition between two
// pages, deduplicated on (from, to, session).
type Edge struct {
	ID               string
	FromPageID       string
	ToPageID         string
	SessionID        string
	Count            int64
	FirstTraversal   time.Time
	LastTraversal    time.Time
	IsBackNavigation bool
}

// Visit is one instance of a tab dwelling on a page.
type Visit struct {
	ID               string
	PageID           string
	SessionID        string
	FromPageID       string // empty when the visit had no known source
	StartTime        time.Time
	EndTime          *time.Time
	TotalActiveTime  int64 // seconds
	IsBackNavigation bool
	UpdatedAt        time.Time
}

// Session is a bounded span of browsing activity grouping visits and edges.
type Session struct {
	ID              string
	StartTime       time.Time
	EndTime         *time.Time
	LastActivityAt  time.Time
	TotalActiveTime int64 // seconds
	IsActive        bool
	UpdatedAt       time.Time
}

// Event is one append-only lifecycle log entry. Events are immutable once
// written and are read (never deleted) by the sync engine.
type Event struct {
	ID        string
	Operation string
	SessionID string
	Timestamp time.Time
	Data      string // JSON-encoded payload
	LoggedAt  time.Time
}

// Event operations.
const (
	OpSessionStarted  = "session_started"
	OpSessionEnded    = "session_ended"
	OpVisitStarted    = "visit_started"
	OpVisitEnded      = "visit_ended"
	OpActivityUpdated = "activity_updated"
	OpSearchClick     = "search_click"
)

// Page sync statuses.
const (
	SyncStatusLocal  = "local"
	SyncStatusSynced = "synced"
)

// Stats holds aggregate statistics about the local graph.
type Stats struct {
	TotalPages        int64
	TotalEdges        int64
	TotalVisits       int64
	TotalSessions     int64
	TotalEvents       int64
	FirstActivity     time.Time
	LastActivity      time.Time
	DatabaseSizeBytes int64
	TopDomains        []DomainCount
}

// DomainCount pairs a domain with its accumulated visit count.
type DomainCount struct {
	Domain string
	Visits int64
}
