package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/trailgraph/internal/coldsync"
	"github.com/runnerr0/trailgraph/internal/daemon"
	"github.com/runnerr0/trailgraph/internal/session"
	"github.com/runnerr0/trailgraph/internal/trackability"
	"github.com/runnerr0/trailgraph/internal/tracker"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}

	logger, err := buildLogger(cfg, c.globals, c.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, state, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer state.Close()

	idleThreshold := time.Duration(cfg.Session.IdleMinutes) * time.Minute
	sessions := session.NewManager(store, state, idleThreshold, logger)
	filter := trackability.New(cfg.Tracking)
	track := tracker.New(store, sessions, filter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sync engine + schedule, only when a remote is configured.
	if cfg.Sync.Enabled {
		client := coldsync.NewClient(cfg.Sync.APIBaseURL, cfg.Sync.APIToken,
			time.Duration(cfg.Sync.TimeoutSeconds)*time.Second)
		engine := coldsync.NewEngine(store, state, client,
			coldsync.StaticIdentity(cfg.Sync.UserID),
			cfg.Sync.BatchSize,
			time.Duration(cfg.Sync.MinIntervalMinutes)*time.Minute,
			logger)

		scheduler := coldsync.NewScheduler(engine,
			time.Duration(cfg.Sync.IntervalHours)*time.Hour, logger)
		scheduler.Start(ctx)
		defer scheduler.Stop()

		// Session end fires the rate-limited early trigger. Run it off
		// the caller's goroutine; a session can end from inside a
		// navigation event.
		sessions.OnSessionEnd(func(string) {
			go engine.TriggerSessionEnd(context.Background())
		})
	}

	// Reuse or open the session up front so a restart within the idle
	// threshold continues where it left off.
	if _, err := sessions.StartNew(ctx); err != nil {
		logger.Warn("no session at startup", zap.Error(err))
	}

	srv := daemon.New(cfg.Daemon, track, sessions, store,
		time.Duration(cfg.Session.IdleCheckSeconds)*time.Second, logger)

	err = srv.Run(ctx)

	// Suspension: close out the session so its active time is durable.
	if endErr := sessions.End(context.Background(), ""); endErr != nil {
		logger.Error("ending session at shutdown failed", zap.Error(endErr))
	}
	return err
}
