// Package tracker consumes host navigation events and drives the graph
// store and session manager. It owns all per-tab state; nothing outside
// this package touches it.
package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/trailgraph/internal/storage"
)

// BackForwardQualifier is the transition qualifier the host attaches to
// back/forward navigations.
const BackForwardQualifier = "forward_back"

// Filter screens and canonicalizes URLs before any graph mutation.
type Filter interface {
	IsTrackable(url, title string) bool
	Canonicalize(url string) (string, error)
}

// Sessions is the slice of the session manager the tracker needs.
type Sessions interface {
	Ensure(ctx context.Context) (string, error)
	Current() string
	UpdateActivity(ctx context.Context)
}

// Tracker is the per-tab navigation state machine. Storage failures inside
// an event are logged and never abort the tracker; an interrupted event may
// leave a page without its edge or visit, which the next event repairs as
// far as it can.
type Tracker struct {
	store    *storage.Store
	sessions Sessions
	filter   Filter
	logger   *zap.Logger

	mu   sync.Mutex
	tabs map[int64]*tabState
}

// New creates a tracker.
func New(store *storage.Store, sessions Sessions, filter Filter, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:    store,
		sessions: sessions,
		filter:   filter,
		logger:   logger,
		tabs:     make(map[int64]*tabState),
	}
}

// OnCommitted handles a navigation committing in a tab. Non-main frames,
// untrackable URLs, and duplicate commits for the tab's current URL are
// ignored. A genuine change ends the current visit, resolves the
// destination page, records an edge from the known source (previous URL or
// a pending new-tab marker), and starts the new visit.
func (t *Tracker) OnCommitted(ctx context.Context, tabID int64, url, title string, ts time.Time, isMainFrame bool, qualifiers []string) {
	if !isMainFrame {
		return
	}
	if !t.filter.IsTrackable(url, title) {
		return
	}

	canonical, err := t.filter.Canonicalize(url)
	if err != nil {
		t.logger.Debug("unparseable URL ignored", zap.String("url", url), zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.tab(tabID)
	if st.kind == tabCommitted && st.url == canonical {
		// Duplicate commit for an unchanged URL, e.g. SPA history
		// updates firing repeatedly.
		return
	}

	sessionID, err := t.sessions.Ensure(ctx)
	if err != nil {
		t.logger.Warn("no active session, navigation dropped", zap.Error(err))
		return
	}
	t.sessions.UpdateActivity(ctx)

	isBack := hasQualifier(qualifiers, BackForwardQualifier)

	// End the visit the tab is leaving.
	if st.visitID != "" {
		t.endVisit(ctx, st, sessionID, ts)
	}

	pageID, err := t.store.CreateOrGetPage(ctx, canonical, title, ts)
	if err != nil {
		t.logger.Error("resolving page failed", zap.String("url", canonical), zap.Error(err))
		// Track the URL anyway so duplicate commits stay deduplicated.
		*st = tabState{kind: tabCommitted, url: canonical}
		return
	}

	// Edge source: same-tab previous page, or the deferred marker left by
	// a link that opened this tab.
	fromPageID := t.resolveEdgeSource(st)
	if fromPageID != "" && fromPageID != pageID {
		if _, err := t.store.CreateOrUpdateEdge(ctx, fromPageID, pageID, sessionID, ts, isBack); err != nil {
			t.logger.Error("recording edge failed",
				zap.String("from", fromPageID),
				zap.String("to", pageID),
				zap.Error(err))
		}
	}

	visitID, err := t.store.StartVisit(ctx, pageID, sessionID, fromPageID, isBack, ts)
	if err != nil {
		t.logger.Error("starting visit failed", zap.String("page_id", pageID), zap.Error(err))
	} else {
		t.appendEvent(ctx, storage.OpVisitStarted, sessionID, ts)
	}

	*st = tabState{
		kind:    tabCommitted,
		url:     canonical,
		pageID:  pageID,
		visitID: visitID,
	}
}

// OnCreatedNavigationTarget handles a link opening a new tab. The source
// tab's page becomes a pending edge source on the new tab, consumed by
// that tab's own first commit. No edge exists until then.
func (t *Tracker) OnCreatedNavigationTarget(ctx context.Context, sourceTabID, newTabID int64, url string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.tabs[sourceTabID]
	if !ok || src.kind != tabCommitted || src.url == "" {
		return
	}

	fromPageID := src.pageID
	if fromPageID == "" {
		// The source commit resolved its URL but not its page record;
		// page identity is deterministic, so derive it.
		fromPageID = storage.PageID(src.url)
	}

	t.tabs[newTabID] = &tabState{
		kind:              tabPendingFromSource,
		pendingFromPageID: fromPageID,
	}
	t.logger.Debug("pending navigation marker set",
		zap.Int64("source_tab", sourceTabID),
		zap.Int64("new_tab", newTabID),
		zap.String("from_page_id", fromPageID))
}

// OnTabRemoved force-ends the tab's open visit at the removal time and
// discards its state.
func (t *Tracker) OnTabRemoved(ctx context.Context, tabID int64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tabs[tabID]
	if ok && st.visitID != "" {
		t.endVisit(ctx, st, t.sessions.Current(), ts)
	}
	delete(t.tabs, tabID)
}

// RecordActiveTime accumulates active seconds against the tab's current
// visit, page, and session, and bumps session activity.
func (t *Tracker) RecordActiveTime(ctx context.Context, tabID int64, seconds int64) {
	if seconds <= 0 {
		return
	}

	t.mu.Lock()
	st, ok := t.tabs[tabID]
	var visitID, pageID string
	if ok && st.kind == tabCommitted {
		visitID, pageID = st.visitID, st.pageID
	}
	t.mu.Unlock()

	if visitID == "" {
		return
	}

	if err := t.store.AddVisitActiveTime(ctx, visitID, seconds); err != nil {
		t.logger.Error("adding visit active time failed", zap.String("visit_id", visitID), zap.Error(err))
	}
	if pageID != "" {
		if err := t.store.AddPageActiveTime(ctx, pageID, seconds); err != nil {
			t.logger.Error("adding page active time failed", zap.String("page_id", pageID), zap.Error(err))
		}
	}
	if sessionID := t.sessions.Current(); sessionID != "" {
		if err := t.store.AddSessionActiveTime(ctx, sessionID, seconds); err != nil {
			t.logger.Error("adding session active time failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		t.appendEvent(ctx, storage.OpActivityUpdated, sessionID, time.Now())
	}
	t.sessions.UpdateActivity(ctx)
}

// ClearTabs drops all per-tab state. Called when the session a tab's
// visits belonged to has ended.
func (t *Tracker) ClearTabs() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tabs = make(map[int64]*tabState)
}

// TabCount returns the number of tabs currently tracked.
func (t *Tracker) TabCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tabs)
}

// tab returns the state for tabID, creating it in the Unknown state.
// Caller holds t.mu.
func (t *Tracker) tab(tabID int64) *tabState {
	st, ok := t.tabs[tabID]
	if !ok {
		st = &tabState{kind: tabUnknown}
		t.tabs[tabID] = st
	}
	return st
}

// resolveEdgeSource picks the edge source for a committing tab and
// consumes the pending marker when present. Caller holds t.mu.
func (t *Tracker) resolveEdgeSource(st *tabState) string {
	switch st.kind {
	case tabCommitted:
		return st.pageID
	case tabPendingFromSource:
		from := st.pendingFromPageID
		st.pendingFromPageID = ""
		return from
	default:
		return ""
	}
}

// endVisit ends a visit and logs the lifecycle event. Caller holds t.mu.
func (t *Tracker) endVisit(ctx context.Context, st *tabState, sessionID string, ts time.Time) {
	if err := t.store.EndVisit(ctx, st.visitID, ts); err != nil {
		t.logger.Error("ending visit failed", zap.String("visit_id", st.visitID), zap.Error(err))
		return
	}
	t.appendEvent(ctx, storage.OpVisitEnded, sessionID, ts)
}

func (t *Tracker) appendEvent(ctx context.Context, operation, sessionID string, ts time.Time) {
	err := t.store.AppendEvent(ctx, &storage.Event{
		Operation: operation,
		SessionID: sessionID,
		Timestamp: ts,
	})
	if err != nil {
		t.logger.Error("appending event failed", zap.String("operation", operation), zap.Error(err))
	}
}

func hasQualifier(qualifiers []string, want string) bool {
	for _, q := range qualifiers {
		if q == want {
			return true
		}
	}
	return false
}
