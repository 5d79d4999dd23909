package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve  *ServeCommand
	Status *StatusCommand
	Sync   *SyncCommand
	Purge  *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "trailgraph"
	parser.LongDescription = "Local browsing navigation graph: per-tab tracking, sessions, and cold-storage sync."

	cmds := &commands{
		Serve:  &ServeCommand{globals: &globals, version: version},
		Status: &StatusCommand{globals: &globals, version: version},
		Sync:   &SyncCommand{globals: &globals, version: version},
		Purge:  &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Start the tracking daemon", "Start the local ingest daemon, session idle checks, and the sync schedule.", cmds.Serve)
	parser.AddCommand("status", "Show graph and sync state", "Show database statistics, the current session, the sync watermark, and daemon liveness.", cmds.Status)
	parser.AddCommand("sync", "Run a sync now", "Run one cold-storage sync immediately; --dry-run only counts pending records.", cmds.Sync)
	parser.AddCommand("purge", "Delete ALL local graph data", "Delete ALL local graph data and sync state. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the trailgraph CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("trailgraph %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
