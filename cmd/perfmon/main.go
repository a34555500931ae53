// Package main is the entry point for the perfmon binary.
package main

import (
	"os"

	"github.com/vjranagit/perfmon/cmd/perfmon/cmd"
)

// Build-time variables set via ldflags.
var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
