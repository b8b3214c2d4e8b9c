// Package main provides the audioseek CLI.
//
// Usage:
//
//	audioseek [flags] <command>
//
// Commands:
//
//	serve    - run the HTTP search API
//	index    - extract fingerprints from a directory and ingest them
//	info     - show vector collection state
//
// Configuration is read from an optional YAML file (--config) with flag
// overrides.
package main

import (
	"fmt"
	"os"

	"github.com/audioseek/audioseek/cmd/audioseek/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
