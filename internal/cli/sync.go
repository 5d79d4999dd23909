package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/trailgraph/internal/coldsync"
)

// Execute implements the go-flags Commander interface for SyncCommand.
func (c *SyncCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if !cfg.Sync.Enabled && !c.DryRun {
		return errors.New("sync is disabled; set sync.enabled in the config")
	}

	logger, err := buildLogger(cfg, c.globals, "")
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

	userID := cfg.Sync.UserID
	if c.DryRun && userID == "" {
		// A dry run never stamps records anywhere, so counting works
		// without a configured identity.
		userID = "local"
	}

	client := coldsync.NewClient(cfg.Sync.APIBaseURL, cfg.Sync.APIToken,
		time.Duration(cfg.Sync.TimeoutSeconds)*time.Second)
	engine := coldsync.NewEngine(store, state, client,
		coldsync.StaticIdentity(userID),
		cfg.Sync.BatchSize,
		time.Duration(cfg.Sync.MinIntervalMinutes)*time.Minute,
		logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := engine.Run(ctx, coldsync.Options{DryRun: c.DryRun})
	if err != nil {
		// A partial result still tells the user how far the run got.
		if result != nil && len(result.Collections) > 0 {
			printSyncResult(result)
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	printSyncResult(result)
	return nil
}

func printSyncResult(result *coldsync.Result) {
	if result.DryRun {
		fmt.Println("Dry run; nothing uploaded, watermark unchanged.")
	}
	for _, cr := range result.Collections {
		if result.DryRun {
			fmt.Printf("  %-14s %s pending\n", cr.Collection, formatNumber(int64(cr.Records)))
		} else {
			fmt.Printf("  %-14s %s records in %d batches\n",
				cr.Collection, formatNumber(int64(cr.Records)), cr.Batches)
		}
	}
	fmt.Printf("Total: %s records", formatNumber(int64(result.TotalRecords)))
	if !result.DryRun {
		fmt.Printf(" in %s, watermark now %s",
			result.Duration.Round(time.Millisecond),
			result.WatermarkTo.Format(time.RFC3339))
	}
	fmt.Println()
}
