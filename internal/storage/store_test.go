package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated in-memory Store for testing.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	store := New(db)
	t.Cleanup(func() { store.Close() })

	return store
}

func testSession(t *testing.T, store *Store, at time.Time) string {
	t.Helper()
	id, err := store.InsertSession(context.Background(), at)
	require.NoError(t, err)
	return id
}

// --- Pages ---

func TestCreateOrGetPage_RepeatedCommitsSingleRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	url := "https://example.com/article"
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var lastID string
	for i := 0; i < 5; i++ {
		id, err := store.CreateOrGetPage(ctx, url, "An Article", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		if lastID != "" {
			assert.Equal(t, lastID, id, "deterministic ID must not change between commits")
		}
		lastID = id
	}

	page, err := store.GetPageByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.VisitCount)
	assert.Equal(t, "example.com", page.Domain)
	assert.Equal(t, base, page.FirstVisit)
	assert.Equal(t, base.Add(4*time.Minute), page.LastVisit)
}

func TestCreateOrGetPage_EmptyTitleKeepsExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	url := "https://example.com/doc"
	now := time.Now().UTC()

	_, err := store.CreateOrGetPage(ctx, url, "Real Title", now)
	require.NoError(t, err)
	_, err = store.CreateOrGetPage(ctx, url, "", now.Add(time.Minute))
	require.NoError(t, err)

	page, err := store.GetPageByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "Real Title", page.Title)

	_, err = store.CreateOrGetPage(ctx, url, "Newer Title", now.Add(2*time.Minute))
	require.NoError(t, err)

	page, err = store.GetPageByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "Newer Title", page.Title)
}

func TestGetPage_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetPage(context.Background(), "pg_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddPageActiveTime_RejectsNonPositive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.CreateOrGetPage(ctx, "https://example.com", "", time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, store.AddPageActiveTime(ctx, id, 0), ErrNonPositiveDelta)
	assert.ErrorIs(t, store.AddPageActiveTime(ctx, id, -5), ErrNonPositiveDelta)

	require.NoError(t, store.AddPageActiveTime(ctx, id, 30))
	require.NoError(t, store.AddPageActiveTime(ctx, id, 12))

	page, err := store.GetPage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), page.TotalActiveTime)
}

// --- Edges ---

func TestCreateOrUpdateEdge_CountIncrements(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sessionID := testSession(t, store, now)
	fromID, err := store.CreateOrGetPage(ctx, "https://a.example/", "", now)
	require.NoError(t, err)
	toID, err := store.CreateOrGetPage(ctx, "https://b.example/", "", now)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.CreateOrUpdateEdge(ctx, fromID, toID, sessionID, now.Add(time.Duration(i)*time.Second), false)
		require.NoError(t, err)
	}

	edge, err := store.GetEdge(ctx, fromID, toID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), edge.Count)
	assert.False(t, edge.IsBackNavigation)
	assert.Equal(t, now.Truncate(time.Nanosecond), edge.FirstTraversal)
	assert.Equal(t, now.Add(2*time.Second), edge.LastTraversal)
}

func TestCreateOrUpdateEdge_PerSessionIdentity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s1 := testSession(t, store, now)
	s2 := testSession(t, store, now)
	fromID, err := store.CreateOrGetPage(ctx, "https://a.example/", "", now)
	require.NoError(t, err)
	toID, err := store.CreateOrGetPage(ctx, "https://b.example/", "", now)
	require.NoError(t, err)

	_, err = store.CreateOrUpdateEdge(ctx, fromID, toID, s1, now, false)
	require.NoError(t, err)
	_, err = store.CreateOrUpdateEdge(ctx, fromID, toID, s2, now, false)
	require.NoError(t, err)

	e1, err := store.GetEdge(ctx, fromID, toID, s1)
	require.NoError(t, err)
	e2, err := store.GetEdge(ctx, fromID, toID, s2)
	require.NoError(t, err)

	assert.NotEqual(t, e1.ID, e2.ID, "same transition in separate sessions is two edges")
	assert.Equal(t, int64(1), e1.Count)
	assert.Equal(t, int64(1), e2.Count)
}

func TestCreateOrUpdateEdge_BackFlagSticky(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sessionID := testSession(t, store, now)
	fromID, err := store.CreateOrGetPage(ctx, "https://a.example/", "", now)
	require.NoError(t, err)
	toID, err := store.CreateOrGetPage(ctx, "https://b.example/", "", now)
	require.NoError(t, err)

	_, err = store.CreateOrUpdateEdge(ctx, fromID, toID, sessionID, now, false)
	require.NoError(t, err)
	_, err = store.CreateOrUpdateEdge(ctx, fromID, toID, sessionID, now.Add(time.Second), true)
	require.NoError(t, err)
	_, err = store.CreateOrUpdateEdge(ctx, fromID, toID, sessionID, now.Add(2*time.Second), false)
	require.NoError(t, err)

	edge, err := store.GetEdge(ctx, fromID, toID, sessionID)
	require.NoError(t, err)
	assert.True(t, edge.IsBackNavigation, "back flag never clears once set")
}

// --- Visits ---

func TestEndVisit_IdempotentAndMonotonic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	sessionID := testSession(t, store, now)
	pageID, err := store.CreateOrGetPage(ctx, "https://example.com/", "", now)
	require.NoError(t, err)

	visitID, err := store.StartVisit(ctx, pageID, sessionID, "", false, now)
	require.NoError(t, err)

	later := now.Add(5 * time.Minute)
	earlier := now.Add(1 * time.Minute)

	// Later end wins regardless of delivery order.
	require.NoError(t, store.EndVisit(ctx, visitID, earlier))
	require.NoError(t, store.EndVisit(ctx, visitID, later))
	require.NoError(t, store.EndVisit(ctx, visitID, earlier))

	visit, err := store.GetVisit(ctx, visitID)
	require.NoError(t, err)
	require.NotNil(t, visit.EndTime)
	assert.Equal(t, later, *visit.EndTime)

	// Duplicate delivery of the same end is a no-op.
	require.NoError(t, store.EndVisit(ctx, visitID, later))
	visit, err = store.GetVisit(ctx, visitID)
	require.NoError(t, err)
	assert.Equal(t, later, *visit.EndTime)
}

func TestEndVisit_UnknownIDIsNoop(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.EndVisit(context.Background(), "vs_missing", time.Now()))
}

func TestCloseOpenVisits(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	sessionID := testSession(t, store, now)
	pageID, err := store.CreateOrGetPage(ctx, "https://example.com/", "", now)
	require.NoError(t, err)

	open1, err := store.StartVisit(ctx, pageID, sessionID, "", false, now)
	require.NoError(t, err)
	open2, err := store.StartVisit(ctx, pageID, sessionID, "", false, now)
	require.NoError(t, err)
	ended, err := store.StartVisit(ctx, pageID, sessionID, "", false, now)
	require.NoError(t, err)
	require.NoError(t, store.EndVisit(ctx, ended, now.Add(time.Minute)))

	end := now.Add(10 * time.Minute)
	closed, err := store.CloseOpenVisits(ctx, sessionID, end)
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed)

	for _, id := range []string{open1, open2} {
		v, err := store.GetVisit(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, v.EndTime)
		assert.Equal(t, end, *v.EndTime)
	}

	// The already-ended visit keeps its own end time.
	v, err := store.GetVisit(ctx, ended)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), *v.EndTime)
}

func TestStartVisit_FromPageOptional(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sessionID := testSession(t, store, now)
	pageID, err := store.CreateOrGetPage(ctx, "https://example.com/", "", now)
	require.NoError(t, err)
	fromID, err := store.CreateOrGetPage(ctx, "https://source.example/", "", now)
	require.NoError(t, err)

	v1, err := store.StartVisit(ctx, pageID, sessionID, "", false, now)
	require.NoError(t, err)
	v2, err := store.StartVisit(ctx, pageID, sessionID, fromID, true, now)
	require.NoError(t, err)

	got1, err := store.GetVisit(ctx, v1)
	require.NoError(t, err)
	assert.Empty(t, got1.FromPageID)
	assert.False(t, got1.IsBackNavigation)

	got2, err := store.GetVisit(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, fromID, got2.FromPageID)
	assert.True(t, got2.IsBackNavigation)
}

// --- Sessions ---

func TestCloseSession_ActiveTimeFloor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Floor raises a lower accumulated total.
	id := testSession(t, store, now)
	require.NoError(t, store.AddSessionActiveTime(ctx, id, 10))
	require.NoError(t, store.CloseSession(ctx, id, now.Add(time.Minute), 60))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, sess.IsActive)
	assert.Equal(t, int64(60), sess.TotalActiveTime)

	// A higher accumulated total never regresses.
	id2 := testSession(t, store, now)
	require.NoError(t, store.AddSessionActiveTime(ctx, id2, 300))
	require.NoError(t, store.CloseSession(ctx, id2, now.Add(time.Minute), 60))

	sess2, err := store.GetSession(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, int64(300), sess2.TotalActiveTime)
}

func TestTouchSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id := testSession(t, store, now)
	later := now.Add(3 * time.Minute)
	require.NoError(t, store.TouchSession(ctx, id, later))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, later, sess.LastActivityAt)
	assert.True(t, sess.IsActive)
}

// --- Events ---

func TestAppendEvent_Defaults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := &Event{Operation: OpSessionStarted, SessionID: "ss_x"}
	require.NoError(t, store.AppendEvent(ctx, ev))

	assert.Contains(t, ev.ID, "ev_")
	assert.False(t, ev.LoggedAt.IsZero())
	assert.Equal(t, "{}", ev.Data)

	events, err := store.EventsLoggedSince(ctx, OpSessionStarted, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ss_x", events[0].SessionID)
}

func TestEventsLoggedSince_FiltersByOperationAndWatermark(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	require.NoError(t, store.AppendEvent(ctx, &Event{Operation: OpSearchClick, LoggedAt: early, Data: `{"query":"go"}`}))
	require.NoError(t, store.AppendEvent(ctx, &Event{Operation: OpSearchClick, LoggedAt: late, Data: `{"query":"sqlite"}`}))
	require.NoError(t, store.AppendEvent(ctx, &Event{Operation: OpVisitStarted, LoggedAt: late}))

	got, err := store.EventsLoggedSince(ctx, OpSearchClick, early)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, `{"query":"sqlite"}`, got[0].Data)

	all, err := store.EventsLoggedSince(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// --- Watermark reads ---

func TestUpdatedSince_StrictlyAfterWatermark(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	store.now = func() time.Time { return t1 }
	_, err := store.CreateOrGetPage(ctx, "https://old.example/", "", t1)
	require.NoError(t, err)
	store.now = func() time.Time { return t2 }
	_, err = store.CreateOrGetPage(ctx, "https://new.example/", "", t2)
	require.NoError(t, err)

	pages, err := store.PagesUpdatedSince(ctx, t1)
	require.NoError(t, err)
	require.Len(t, pages, 1, "a record updated exactly at the watermark is excluded")
	assert.Equal(t, "https://new.example/", pages[0].URL)

	pages, err = store.PagesUpdatedSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestUpdatedSince_SubSecondOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC)

	store.now = func() time.Time { return base }
	_, err := store.CreateOrGetPage(ctx, "https://a.example/", "", base)
	require.NoError(t, err)
	store.now = func() time.Time { return base.Add(time.Millisecond) }
	_, err = store.CreateOrGetPage(ctx, "https://b.example/", "", base.Add(time.Millisecond))
	require.NoError(t, err)

	pages, err := store.PagesUpdatedSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, pages, 1, "sub-second watermark comparison must hold")
	assert.Equal(t, "https://b.example/", pages[0].URL)
}

// Late delivery: an event arriving after a sync run completed still
// carries its original timestamp. The mutation must land above the
// advanced watermark or it would never be exported.

func TestEndVisit_LateDeliveryStaysVisibleToWatermark(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return start }

	sessionID := testSession(t, store, start)
	pageID, err := store.CreateOrGetPage(ctx, "https://example.com/", "", start)
	require.NoError(t, err)
	visitID, err := store.StartVisit(ctx, pageID, sessionID, "", false, start)
	require.NoError(t, err)

	// A sync run completes at 10:05; the tab removal arrives afterwards
	// but was observed at 10:03.
	watermark := start.Add(5 * time.Minute)
	store.now = func() time.Time { return watermark.Add(time.Minute) }
	require.NoError(t, store.EndVisit(ctx, visitID, start.Add(3*time.Minute)))

	visits, err := store.VisitsUpdatedSince(ctx, watermark)
	require.NoError(t, err)
	require.Len(t, visits, 1, "late-ended visit must stay eligible for the next export")
	require.NotNil(t, visits[0].EndTime)
	assert.Equal(t, start.Add(3*time.Minute), *visits[0].EndTime, "end time keeps the event timestamp")
}

func TestCloseSession_LateDeliveryStaysVisibleToWatermark(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return start }
	sessionID := testSession(t, store, start)

	watermark := start.Add(5 * time.Minute)
	store.now = func() time.Time { return watermark.Add(time.Minute) }
	require.NoError(t, store.CloseSession(ctx, sessionID, start.Add(3*time.Minute), 0))

	sessions, err := store.SessionsUpdatedSince(ctx, watermark)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "late-closed session must stay eligible for the next export")
	require.NotNil(t, sessions[0].EndTime)
	assert.Equal(t, start.Add(3*time.Minute), *sessions[0].EndTime)
}

// --- IDs ---

func TestIDs_Deterministic(t *testing.T) {
	assert.Equal(t, PageID("https://example.com/"), PageID("https://example.com/"))
	assert.NotEqual(t, PageID("https://example.com/a"), PageID("https://example.com/b"))
	assert.Contains(t, PageID("https://example.com/"), "pg_")

	assert.Equal(t, EdgeID("pg_a", "pg_b", "ss_1"), EdgeID("pg_a", "pg_b", "ss_1"))
	assert.NotEqual(t, EdgeID("pg_a", "pg_b", "ss_1"), EdgeID("pg_a", "pg_b", "ss_2"))
	assert.NotEqual(t, EdgeID("pg_a", "pg_b", "ss_1"), EdgeID("pg_b", "pg_a", "ss_1"))
}

// --- Stats / purge ---

func TestGetStats_AndPurgeAll(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sessionID := testSession(t, store, now)
	pageID, err := store.CreateOrGetPage(ctx, "https://example.com/", "", now)
	require.NoError(t, err)
	_, err = store.StartVisit(ctx, pageID, sessionID, "", false, now)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(ctx, &Event{Operation: OpVisitStarted, SessionID: sessionID}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPages)
	assert.Equal(t, int64(1), stats.TotalVisits)
	assert.Equal(t, int64(1), stats.TotalSessions)
	assert.Equal(t, int64(1), stats.TotalEvents)
	require.Len(t, stats.TopDomains, 1)
	assert.Equal(t, "example.com", stats.TopDomains[0].Domain)

	require.NoError(t, store.PurgeAll(ctx))

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPages)
	assert.Zero(t, stats.TotalVisits)
	assert.Zero(t, stats.TotalSessions)
	assert.Zero(t, stats.TotalEvents)
}

func TestMarkPagesSynced(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t1 }
	_, err := store.CreateOrGetPage(ctx, "https://example.com/", "", t1)
	require.NoError(t, err)

	page, err := store.GetPageByURL(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SyncStatusLocal, page.SyncStatus)

	runStart := t1.Add(time.Minute)
	require.NoError(t, store.MarkPagesSynced(ctx, runStart))

	page, err = store.GetPageByURL(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SyncStatusSynced, page.SyncStatus)

	// Flipping the flag must not pull the row back into the next
	// export window.
	pages, err := store.PagesUpdatedSince(ctx, runStart)
	require.NoError(t, err)
	assert.Empty(t, pages)

	// A later mutation dirties the page again.
	t2 := runStart.Add(time.Minute)
	store.now = func() time.Time { return t2 }
	_, err = store.CreateOrGetPage(ctx, "https://example.com/", "", t2)
	require.NoError(t, err)

	page, err = store.GetPageByURL(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SyncStatusLocal, page.SyncStatus)

	// Pages touched after the run started are left alone.
	require.NoError(t, store.MarkPagesSynced(ctx, runStart))
	page, err = store.GetPageByURL(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SyncStatusLocal, page.SyncStatus)
}

func TestStore_NotReady(t *testing.T) {
	var store *Store
	_, err := store.GetStats(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}
