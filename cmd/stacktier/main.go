// Package main is the entry point for the stacktier CLI.
//
// stacktier provisions a layered application stack on AWS (network, shared
// storage, instance identity, compute, optional load balancing) in strict
// dependency order, with resumable persisted state, provenance-aware
// rollback, and cost-optimized spot placement.
//
// Commands: deploy, destroy, status, cost.
//
// For detailed usage information, run:
//
//	stacktier --help
package main

import (
	"fmt"
	"os"

	"github.com/stacktier/stacktier/cmd/stacktier/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
