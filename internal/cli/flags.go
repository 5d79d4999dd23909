package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand — run the ingest daemon, idle checks, and sync schedule.
type ServeCommand struct {
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// StatusCommand — show graph statistics, session, watermark, daemon liveness.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// SyncCommand — run one cold-storage sync immediately.
type SyncCommand struct {
	DryRun bool `long:"dry-run" description:"Count pending records without uploading or advancing the watermark"`

	globals *GlobalFlags
	version string
}

// PurgeCommand — delete ALL local graph data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
}
