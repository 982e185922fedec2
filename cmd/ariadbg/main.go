// Package main is the entry point for the ariadbg console debugger.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func versionInfo() string {
	return fmt.Sprintf("ariadbg %s (commit: %s, built: %s)", version, commit, date)
}

func main() {
	os.Exit(run())
}

func run() int {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ariadbg"),
		kong.Description("Console client for debug servers speaking the debug adapter protocol."),
		kong.Vars{"version": versionInfo()},
		kong.UsageOnError(),
		kong.Bind(&cli),
	)

	if err := ctx.Run(); err != nil {
		if errors.Is(err, errQuit) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
