package tracker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trailgraph/internal/config"
	"github.com/runnerr0/trailgraph/internal/session"
	"github.com/runnerr0/trailgraph/internal/statestore"
	"github.com/runnerr0/trailgraph/internal/storage"
	"github.com/runnerr0/trailgraph/internal/trackability"
)

func newTestTracker(t *testing.T) (*Tracker, *storage.Store, string) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewMigrationRunner(db).Run())
	store := storage.New(db)

	state, err := statestore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	sessions := session.NewManager(store, state, 15*time.Minute, nil)
	filter := trackability.New(config.DefaultConfig().Tracking)
	track := New(store, sessions, filter, nil)

	sessionID, err := sessions.StartNew(context.Background())
	require.NoError(t, err)

	return track, store, sessionID
}

func TestOnCommitted_TwoNavigationsBuildGraph(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(30 * time.Second)

	track.OnCommitted(ctx, 1, "https://a.example/start", "Start", t1, true, nil)
	track.OnCommitted(ctx, 1, "https://b.example/next", "Next", t2, true, nil)

	pageA, err := store.GetPageByURL(ctx, "https://a.example/start")
	require.NoError(t, err)
	pageB, err := store.GetPageByURL(ctx, "https://b.example/next")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pageA.VisitCount)
	assert.Equal(t, int64(1), pageB.VisitCount)

	edge, err := store.GetEdge(ctx, pageA.ID, pageB.ID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), edge.Count)
	assert.False(t, edge.IsBackNavigation)

	visits, err := store.VisitsForSession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, visits, 2)

	// The first visit ended exactly when the second commit landed.
	require.NotNil(t, visits[0].EndTime)
	assert.Equal(t, t2, *visits[0].EndTime)
	assert.Nil(t, visits[1].EndTime)
	assert.Equal(t, pageA.ID, visits[1].FromPageID)
}

func TestOnCommitted_DuplicateURLIgnored(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	track.OnCommitted(ctx, 1, "https://a.example/page", "A", now, true, nil)
	track.OnCommitted(ctx, 1, "https://a.example/page", "A", now.Add(time.Second), true, nil)
	track.OnCommitted(ctx, 1, "https://a.example/page#section", "A", now.Add(2*time.Second), true, nil)

	page, err := store.GetPageByURL(ctx, "https://a.example/page")
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.VisitCount, "repeat commits of the same canonical URL are one visit")

	visits, err := store.VisitsForSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, visits, 1)
}

func TestOnCommitted_NonMainFrameIgnored(t *testing.T) {
	track, store, _ := newTestTracker(t)
	ctx := context.Background()

	track.OnCommitted(ctx, 1, "https://a.example/iframe", "", time.Now(), false, nil)

	_, err := store.GetPageByURL(ctx, "https://a.example/iframe")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, track.TabCount())
}

func TestOnCommitted_UntrackableURLIgnored(t *testing.T) {
	track, store, _ := newTestTracker(t)
	ctx := context.Background()

	track.OnCommitted(ctx, 1, "chrome://settings", "", time.Now(), true, nil)
	track.OnCommitted(ctx, 1, "https://chase.com/account", "", time.Now(), true, nil)
	track.OnCommitted(ctx, 1, "https://example.com/login", "", time.Now(), true, nil)

	pages, err := store.PagesUpdatedSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestOnCommitted_SelfNavigationNoEdge(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Same page reached via differently-decorated URLs: one page, no
	// self-edge.
	track.OnCommitted(ctx, 1, "https://a.example/page?utm_source=mail", "A", now, true, nil)
	track.OnCommitted(ctx, 1, "https://a.example/other", "B", now.Add(time.Second), true, nil)
	track.OnCommitted(ctx, 1, "https://a.example/page", "A", now.Add(2*time.Second), true, nil)
	track.OnCommitted(ctx, 1, "https://a.example/page?utm_source=feed", "A", now.Add(3*time.Second), true, nil)

	edges, err := store.EdgesForSession(ctx, sessionID)
	require.NoError(t, err)
	for _, e := range edges {
		assert.NotEqual(t, e.FromPageID, e.ToPageID, "no self-edges")
	}
}

func TestOnCommitted_BackNavigation(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	track.OnCommitted(ctx, 1, "https://a.example/", "A", now, true, nil)
	track.OnCommitted(ctx, 1, "https://b.example/", "B", now.Add(time.Second), true, nil)
	track.OnCommitted(ctx, 1, "https://a.example/", "A", now.Add(2*time.Second), true,
		[]string{BackForwardQualifier})

	pageA, err := store.GetPageByURL(ctx, "https://a.example/")
	require.NoError(t, err)
	pageB, err := store.GetPageByURL(ctx, "https://b.example/")
	require.NoError(t, err)

	back, err := store.GetEdge(ctx, pageB.ID, pageA.ID, sessionID)
	require.NoError(t, err)
	assert.True(t, back.IsBackNavigation)

	forward, err := store.GetEdge(ctx, pageA.ID, pageB.ID, sessionID)
	require.NoError(t, err)
	assert.False(t, forward.IsBackNavigation)

	visits, err := store.VisitsForSession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, visits, 3)
	assert.True(t, visits[2].IsBackNavigation)
}

func TestOnCreatedNavigationTarget_EdgeDeferredToCommit(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	track.OnCommitted(ctx, 1, "https://a.example/source", "Source", now, true, nil)
	track.OnCreatedNavigationTarget(ctx, 1, 2, "https://b.example/target", now.Add(time.Second))

	// No edge until the new tab commits.
	edges, err := store.EdgesForSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, edges)

	track.OnCommitted(ctx, 2, "https://b.example/target", "Target", now.Add(2*time.Second), true, nil)

	pageA, err := store.GetPageByURL(ctx, "https://a.example/source")
	require.NoError(t, err)
	pageB, err := store.GetPageByURL(ctx, "https://b.example/target")
	require.NoError(t, err)

	edge, err := store.GetEdge(ctx, pageA.ID, pageB.ID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), edge.Count)

	// The source tab's own visit is untouched by the spawned tab.
	visits, err := store.VisitsForSession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Nil(t, visits[0].EndTime)
}

func TestOnCreatedNavigationTarget_UnknownSourceIgnored(t *testing.T) {
	track, _, _ := newTestTracker(t)
	ctx := context.Background()

	track.OnCreatedNavigationTarget(ctx, 99, 2, "https://b.example/", time.Now())
	assert.Zero(t, track.TabCount())
}

func TestOnTabRemoved_EndsVisit(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	removed := start.Add(2 * time.Minute)

	track.OnCommitted(ctx, 1, "https://a.example/", "A", start, true, nil)
	track.OnTabRemoved(ctx, 1, removed)

	visits, err := store.VisitsForSession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	require.NotNil(t, visits[0].EndTime)
	assert.Equal(t, removed, *visits[0].EndTime)
	assert.Zero(t, track.TabCount())
}

func TestOnTabRemoved_UnknownTabIsNoop(t *testing.T) {
	track, _, _ := newTestTracker(t)
	track.OnTabRemoved(context.Background(), 42, time.Now())
	assert.Zero(t, track.TabCount())
}

func TestRecordActiveTime_AccumulatesAcrossLevels(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	track.OnCommitted(ctx, 1, "https://a.example/", "A", now, true, nil)
	track.RecordActiveTime(ctx, 1, 30)
	track.RecordActiveTime(ctx, 1, 15)
	track.RecordActiveTime(ctx, 1, 0) // ignored

	page, err := store.GetPageByURL(ctx, "https://a.example/")
	require.NoError(t, err)
	assert.Equal(t, int64(45), page.TotalActiveTime)

	visits, err := store.VisitsForSession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, int64(45), visits[0].TotalActiveTime)

	sess, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(45), sess.TotalActiveTime)
}

func TestRecordActiveTime_UnknownTabIsNoop(t *testing.T) {
	track, store, sessionID := newTestTracker(t)
	ctx := context.Background()

	track.RecordActiveTime(ctx, 7, 60)

	sess, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Zero(t, sess.TotalActiveTime)
}

func TestClearTabs(t *testing.T) {
	track, _, _ := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	track.OnCommitted(ctx, 1, "https://a.example/", "A", now, true, nil)
	track.OnCommitted(ctx, 2, "https://b.example/", "B", now, true, nil)
	require.Equal(t, 2, track.TabCount())

	track.ClearTabs()
	assert.Zero(t, track.TabCount())
}
