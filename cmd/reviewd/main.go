// Package main provides the CLI entry point for the reviewd analysis
// orchestrator.
//
// reviewd accepts code-review triggers over a webhook, fans analysis out
// across registered tools, caches tiered results, and keeps per-repository
// scan schedules in step with what the analyses find.
//
// # Basic Usage
//
// Start the server:
//
//	reviewd serve --config reviewd.yaml
//
// Run a one-shot scan:
//
//	reviewd scan https://github.com/acme/api --tier comprehensive
//
// Inspect schedules:
//
//	reviewd schedule list
//
// # Environment Variables
//
//   - REVIEWD_CONFIG: Path to configuration file (default: reviewd.yaml)
//   - MAX_CONCURRENCY, PER_TOOL_TIMEOUT_MS, RUN_TIMEOUT_MS, CACHE_TTL_SEC,
//     WORKSPACES_DIR, WORKSPACE_TIMEOUT_MS: runtime overrides
//   - ENABLE_<TOOLID>: per-tool enablement flags
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
