// Package coldsync exports the accumulated graph to a remote store in
// watermark-bounded batches. Delivery is at-least-once: a failed run never
// advances the watermark, and already-sent batches are not retracted, so
// the receiver must accept re-sent records idempotently by id.
package coldsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/trailgraph/internal/statestore"
	"github.com/runnerr0/trailgraph/internal/storage"
)

var (
	// ErrRunInFlight is returned when a run is already executing;
	// overlapping runs are rejected, not queued.
	ErrRunInFlight = errors.New("sync run already in flight")

	// ErrNoIdentity is returned when no authenticated user id is
	// available. The run aborts before reading anything.
	ErrNoIdentity = errors.New("no authenticated user for sync")
)

// Collection names, matching the remote endpoints.
const (
	CollectionPages        = "pages"
	CollectionVisits       = "visits"
	CollectionSessions     = "sessions"
	CollectionSearchClicks = "search-clicks"
)

// Identity supplies the user id stamped on exported records.
type Identity interface {
	CurrentUserID() (string, error)
}

// StaticIdentity is a config-backed Identity.
type StaticIdentity string

// CurrentUserID returns the configured user id, or an empty string when
// none is configured.
func (s StaticIdentity) CurrentUserID() (string, error) {
	return string(s), nil
}

// Options configures one sync run.
type Options struct {
	// DryRun reads and counts records without sending anything or
	// advancing the watermark.
	DryRun bool
}

// CollectionResult is the outcome for one collection.
type CollectionResult struct {
	Collection string
	Records    int
	Batches    int
}

// Result is the outcome of a sync run.
type Result struct {
	Collections   []CollectionResult
	TotalRecords  int
	Duration      time.Duration
	WatermarkFrom time.Time
	WatermarkTo   time.Time
	DryRun        bool
}

// Engine reads everything mutated after the persisted watermark, batches
// it, and uploads it. The watermark advances only when every batch of
// every collection succeeded.
type Engine struct {
	store    *storage.Store
	state    *statestore.Store
	sender   BatchSender
	identity Identity
	logger   *zap.Logger

	batchSize   int
	minInterval time.Duration
	now         func() time.Time

	running atomic.Bool
}

// NewEngine creates a sync engine. batchSize defaults to 500 and
// minInterval (early-trigger suppression window) to 10 minutes.
func NewEngine(store *storage.Store, state *statestore.Store, sender BatchSender, identity Identity, batchSize int, minInterval time.Duration, logger *zap.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = 500
	}
	if minInterval <= 0 {
		minInterval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       store,
		state:       state,
		sender:      sender,
		identity:    identity,
		logger:      logger,
		batchSize:   batchSize,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Run executes one sync run. Identity failure aborts immediately; a batch
// failure aborts the remaining batches of the run and leaves the watermark
// unchanged, relying on the next invocation to retry. There is no in-run
// retry loop.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer e.running.Store(false)

	userID, err := e.identity.CurrentUserID()
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if userID == "" {
		return nil, ErrNoIdentity
	}

	watermark, err := e.state.Watermark()
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	runStart := e.now()
	result := &Result{
		WatermarkFrom: watermark,
		WatermarkTo:   watermark, // stays put unless the run succeeds
		DryRun:        opts.DryRun,
	}

	e.logger.Info("sync run starting",
		zap.Time("watermark", watermark),
		zap.Bool("dry_run", opts.DryRun))

	for _, col := range e.collections(userID, watermark) {
		records, err := col.read(ctx)
		if err != nil {
			return result, fmt.Errorf("read %s: %w", col.name, err)
		}

		cr := CollectionResult{Collection: col.name, Records: len(records)}
		if !opts.DryRun {
			batches, err := e.upload(ctx, col.name, records)
			cr.Batches = batches
			if err != nil {
				result.Collections = append(result.Collections, cr)
				e.logger.Error("sync run aborted",
					zap.String("collection", col.name),
					zap.Error(err))
				return result, err
			}
		}
		result.Collections = append(result.Collections, cr)
		result.TotalRecords += cr.Records
	}

	if !opts.DryRun {
		if err := e.state.SetWatermark(runStart); err != nil {
			return result, fmt.Errorf("advance watermark: %w", err)
		}
		if err := e.state.SetSyncCompletedAt(e.now()); err != nil {
			e.logger.Error("recording sync completion failed", zap.Error(err))
		}
		// Everything the run exported is now remote; flip the local
		// bookkeeping flag without re-dirtying the rows.
		if err := e.store.MarkPagesSynced(ctx, runStart); err != nil {
			e.logger.Error("marking pages synced failed", zap.Error(err))
		}
		result.WatermarkTo = runStart
	}

	result.Duration = e.now().Sub(runStart)
	e.logger.Info("sync run finished",
		zap.Int("records", result.TotalRecords),
		zap.Duration("duration", result.Duration),
		zap.Time("watermark", result.WatermarkTo))
	return result, nil
}

// TriggerSessionEnd runs a sync early after a session ended, unless a run
// completed within the suppression window. Meant to be called from a
// goroutine; it logs its own outcome.
func (e *Engine) TriggerSessionEnd(ctx context.Context) {
	completedAt, err := e.state.SyncCompletedAt()
	if err != nil {
		e.logger.Error("reading sync completion time failed", zap.Error(err))
		return
	}
	if since := e.now().Sub(completedAt); since < e.minInterval {
		e.logger.Debug("early sync suppressed", zap.Duration("since_last", since))
		return
	}

	if _, err := e.Run(ctx, Options{}); err != nil {
		if errors.Is(err, ErrRunInFlight) {
			e.logger.Debug("early sync skipped, run in flight")
			return
		}
		e.logger.Error("early sync failed", zap.Error(err))
	}
}

// collection binds a name to its watermark read.
type collectionReader struct {
	name string
	read func(ctx context.Context) ([]any, error)
}

func (e *Engine) collections(userID string, watermark time.Time) []collectionReader {
	return []collectionReader{
		{CollectionPages, func(ctx context.Context) ([]any, error) {
			pages, err := e.store.PagesUpdatedSince(ctx, watermark)
			if err != nil {
				return nil, err
			}
			return toWirePages(pages, userID), nil
		}},
		{CollectionVisits, func(ctx context.Context) ([]any, error) {
			visits, err := e.store.VisitsUpdatedSince(ctx, watermark)
			if err != nil {
				return nil, err
			}
			return toWireVisits(visits, userID), nil
		}},
		{CollectionSessions, func(ctx context.Context) ([]any, error) {
			sessions, err := e.store.SessionsUpdatedSince(ctx, watermark)
			if err != nil {
				return nil, err
			}
			return toWireSessions(sessions, userID), nil
		}},
		{CollectionSearchClicks, func(ctx context.Context) ([]any, error) {
			events, err := e.store.EventsLoggedSince(ctx, storage.OpSearchClick, watermark)
			if err != nil {
				return nil, err
			}
			return toWireSearchClicks(events, userID), nil
		}},
	}
}

// upload splits records into fixed-size batches and posts them
// sequentially. Returns the number of batches sent (including the failed
// one, if any).
func (e *Engine) upload(ctx context.Context, collection string, records []any) (int, error) {
	sent := 0
	for start := 0; start < len(records); start += e.batchSize {
		end := start + e.batchSize
		if end > len(records) {
			end = len(records)
		}
		sent++
		if err := e.sender.SendBatch(ctx, collection, records[start:end]); err != nil {
			return sent, fmt.Errorf("batch %d: %w", sent, err)
		}
		e.logger.Debug("batch sent",
			zap.String("collection", collection),
			zap.Int("batch", sent),
			zap.Int("records", end-start))
	}
	return sent, nil
}
