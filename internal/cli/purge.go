package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/trailgraph/internal/statestore"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return errors.New("purge requires --all to confirm you want to delete everything")
	}

	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("reading statistics: %w", err)
	}

	if !c.Force {
		fmt.Printf("This deletes %s pages, %s edges, %s visits, %s sessions and all sync state.\n",
			formatNumber(stats.TotalPages), formatNumber(stats.TotalEdges),
			formatNumber(stats.TotalVisits), formatNumber(stats.TotalSessions))
		fmt.Print("Type 'purge' to continue: ")

		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if strings.TrimSpace(line) != "purge" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := store.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purging database: %w", err)
	}

	// Stale pointers must not outlive the data they point at.
	if err := state.ClearSessionPointer(); err != nil && !errors.Is(err, statestore.ErrNotFound) {
		return fmt.Errorf("clearing session pointer: %w", err)
	}
	if err := state.SetWatermark(time.Time{}); err != nil {
		return fmt.Errorf("resetting watermark: %w", err)
	}

	fmt.Println("All local data purged.")
	return nil
}
