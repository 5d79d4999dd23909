package main

import (
	"fmt"
	"os"

	"github.com/runnerr0/trailgraph/internal/cli"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
