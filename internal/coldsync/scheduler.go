package coldsync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Scheduler fires sync runs at a coarse recurring interval. Durability
// across restarts comes from the watermark, not the timer: a restarted
// process simply picks up everything since the last successful run.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a scheduler; interval defaults to 24 hours.
func NewScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the recurring schedule in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the schedule and waits for the loop to exit. An in-flight
// run is not cancelled; it completes or aborts on its own.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.engine.Run(ctx, Options{})
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInFlight):
		s.logger.Debug("scheduled sync skipped, run in flight")
	case errors.Is(err, ErrNoIdentity):
		s.logger.Warn("scheduled sync skipped, no user configured")
	default:
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
}
