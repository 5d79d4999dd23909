package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/runnerr0/trailgraph/internal/config"
	"github.com/runnerr0/trailgraph/internal/statestore"
	"github.com/runnerr0/trailgraph/internal/storage"
)

// statusInfo is the JSON shape for `trailgraph status --json`.
type statusInfo struct {
	Version           string            `json:"version"`
	DatabasePath      string            `json:"database_path"`
	DatabaseSizeBytes int64             `json:"database_size_bytes"`
	TotalPages        int64             `json:"total_pages"`
	TotalEdges        int64             `json:"total_edges"`
	TotalVisits       int64             `json:"total_visits"`
	TotalSessions     int64             `json:"total_sessions"`
	TotalEvents       int64             `json:"total_events"`
	FirstActivity     string            `json:"first_activity,omitempty"`
	LastActivity      string            `json:"last_activity,omitempty"`
	CurrentSession    string            `json:"current_session,omitempty"`
	SyncWatermark     string            `json:"sync_watermark,omitempty"`
	LastSyncCompleted string            `json:"last_sync_completed,omitempty"`
	DaemonRunning     bool              `json:"daemon_running"`
	TopDomains        []domainCountInfo `json:"top_domains,omitempty"`
}

type domainCountInfo struct {
	Domain string `json:"domain"`
	Visits int64  `json:"visits"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return c.executeWithStores(ctx, cfg, store, state)
}

func (c *StatusCommand) executeWithStores(ctx context.Context, cfg *config.Config, store *storage.Store, state *statestore.Store) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("reading statistics: %w", err)
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}

	info := statusInfo{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: store.DatabaseSize(ctx),
		TotalPages:        stats.TotalPages,
		TotalEdges:        stats.TotalEdges,
		TotalVisits:       stats.TotalVisits,
		TotalSessions:     stats.TotalSessions,
		TotalEvents:       stats.TotalEvents,
		DaemonRunning:     daemonAlive(cfg.Daemon),
	}

	if !stats.FirstActivity.IsZero() {
		info.FirstActivity = stats.FirstActivity.Format(time.RFC3339)
	}
	if !stats.LastActivity.IsZero() {
		info.LastActivity = stats.LastActivity.Format(time.RFC3339)
	}

	if ptr, err := state.SessionPointer(); err == nil {
		info.CurrentSession = ptr.SessionID
	} else if !errors.Is(err, statestore.ErrNotFound) {
		return fmt.Errorf("reading session pointer: %w", err)
	}

	if wm, err := state.Watermark(); err == nil && !wm.IsZero() {
		info.SyncWatermark = wm.Format(time.RFC3339)
	}
	if done, err := state.SyncCompletedAt(); err == nil && !done.IsZero() {
		info.LastSyncCompleted = done.Format(time.RFC3339)
	}

	for _, dc := range stats.TopDomains {
		info.TopDomains = append(info.TopDomains, domainCountInfo{Domain: dc.Domain, Visits: dc.Visits})
	}

	if c.globals != nil && c.globals.JSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printStatus(info)
	return nil
}

func printStatus(info statusInfo) {
	fmt.Printf("trailgraph %s\n\n", info.Version)
	fmt.Printf("Database:  %s (%s)\n", info.DatabasePath, formatBytes(info.DatabaseSizeBytes))

	if info.DaemonRunning {
		fmt.Println("Daemon:    running")
	} else {
		fmt.Println("Daemon:    not running")
	}
	if info.CurrentSession != "" {
		fmt.Printf("Session:   %s\n", info.CurrentSession)
	}

	fmt.Println()
	fmt.Printf("Pages:     %s\n", formatNumber(info.TotalPages))
	fmt.Printf("Edges:     %s\n", formatNumber(info.TotalEdges))
	fmt.Printf("Visits:    %s\n", formatNumber(info.TotalVisits))
	fmt.Printf("Sessions:  %s\n", formatNumber(info.TotalSessions))
	fmt.Printf("Events:    %s\n", formatNumber(info.TotalEvents))

	if info.FirstActivity != "" {
		fmt.Printf("\nActivity:  %s to %s\n", info.FirstActivity, info.LastActivity)
	}

	if info.SyncWatermark != "" {
		fmt.Printf("\nSync watermark: %s\n", info.SyncWatermark)
	}
	if info.LastSyncCompleted != "" {
		fmt.Printf("Last sync:      %s\n", info.LastSyncCompleted)
	}

	if len(info.TopDomains) > 0 {
		fmt.Println("\nTop domains:")
		for _, dc := range info.TopDomains {
			fmt.Printf("  %-40s %s\n", dc.Domain, formatNumber(dc.Visits))
		}
	}
}

// daemonAlive probes the daemon health endpoint with a short timeout.
func daemonAlive(cfg config.DaemonConfig) bool {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
