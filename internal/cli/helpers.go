package cli

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/runnerr0/trailgraph/internal/config"
	"github.com/runnerr0/trailgraph/internal/statestore"
	"github.com/runnerr0/trailgraph/internal/storage"
)

// loadConfig loads the config from the --config path, or the default
// location (creating it on first run).
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// buildLogger constructs the process logger. An explicit level overrides
// the configured one; --verbose forces debug.
func buildLogger(cfg *config.Config, globals *GlobalFlags, override string) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if override != "" {
		level = override
	}
	if globals != nil && globals.Verbose {
		level = "debug"
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if cfg.Logging.File != "" {
		zcfg.OutputPaths = []string{cfg.Logging.File}
	}
	return zcfg.Build()
}

// openStores opens the graph store and the durable state side-store.
func openStores(cfg *config.Config, logger *zap.Logger) (*storage.Store, *statestore.Store, error) {
	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open graph store: %w", err)
	}

	statePath, err := cfg.StatePath()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	state, err := statestore.Open(statePath, logger)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	return store, state, nil
}

// formatNumber renders n with thousands separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}

// formatBytes renders a byte count in human units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
