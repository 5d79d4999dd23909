package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:       "~/.config/trailgraph",
			SQLiteFile: "trailgraph.db",
			StateDir:   "state",
		},
		Session: SessionConfig{
			IdleMinutes:      15,
			IdleCheckSeconds: 60,
		},
		Tracking: TrackingConfig{
			DenylistDomains:     DefaultDenylistDomains(),
			DenylistRegex:       []string{},
			SearchResultDomains: DefaultSearchResultDomains(),
			StripQueryParams:    DefaultStripQueryParams(),
		},
		Sync: SyncConfig{
			Enabled:            false,
			APIBaseURL:         "",
			APIToken:           "",
			UserID:             "",
			IntervalHours:      24,
			MinIntervalMinutes: 10,
			BatchSize:          500,
			TimeoutSeconds:     30,
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8731,
			AuthToken:      "",
			MaxRequestSize: 1048576,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// DefaultSearchResultDomains returns hosts whose result pages are generic
// search listings rather than destinations worth graphing.
func DefaultSearchResultDomains() []string {
	return []string{
		"www.google.com",
		"google.com",
		"www.bing.com",
		"bing.com",
		"duckduckgo.com",
		"search.brave.com",
		"www.ecosia.org",
		"search.yahoo.com",
		"yandex.com",
		"www.startpage.com",
	}
}

// DefaultStripQueryParams returns tracking query parameters removed during
// URL canonicalization so the same page resolves to one identity.
func DefaultStripQueryParams() []string {
	return []string{
		"utm_source",
		"utm_medium",
		"utm_campaign",
		"utm_term",
		"utm_content",
		"gclid",
		"fbclid",
		"msclkid",
		"mc_cid",
		"mc_eid",
		"ref_src",
		"igshid",
	}
}
