package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/trailgraph/config.yaml"

// Config holds all trailgraph configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
	Tracking TrackingConfig `yaml:"tracking"`
	Sync     SyncConfig     `yaml:"sync"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	SQLiteFile string `yaml:"sqlite_file"`
	StateDir   string `yaml:"state_dir"`
}

type SessionConfig struct {
	IdleMinutes      int `yaml:"idle_minutes"`
	IdleCheckSeconds int `yaml:"idle_check_seconds"`
}

type TrackingConfig struct {
	DenylistDomains     []string `yaml:"denylist_domains"`
	DenylistRegex       []string `yaml:"denylist_regex"`
	SearchResultDomains []string `yaml:"search_result_domains"`
	StripQueryParams    []string `yaml:"strip_query_params"`
}

type SyncConfig struct {
	Enabled            bool   `yaml:"enabled"`
	APIBaseURL         string `yaml:"api_base_url"`
	APIToken           string `yaml:"api_token"`
	UserID             string `yaml:"user_id"`
	IntervalHours      int    `yaml:"interval_hours"`
	MinIntervalMinutes int    `yaml:"min_interval_minutes"`
	BatchSize          int    `yaml:"batch_size"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

type DaemonConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	MaxRequestSize int    `yaml:"max_request_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// DatabasePath returns the full path to the SQLite database file,
// with ~ expanded.
func (c *Config) DatabasePath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// StatePath returns the full path to the durable key-value state
// directory, with ~ expanded.
func (c *Config) StatePath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.StateDir), nil
}
