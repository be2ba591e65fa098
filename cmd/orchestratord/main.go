// Package main provides the CLI entry point for the orchestrator
// daemon: the process that wires the gate, session manager, model
// engine, tool dispatcher, event bus, and recovery coordinator into one
// running Orchestrator and serves it to whatever external router holds
// the actual client connections.
//
// # Basic Usage
//
// Start the daemon:
//
//	orchestratord serve --config orchestrator.yaml
//
// Validate configuration without starting anything:
//
//	orchestratord doctor --config orchestrator.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so it can be exercised directly in tests.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "orchestratord",
		Short:        "orchestratord - multi-agent orchestrator core",
		Long:         `orchestratord runs the orchestrator core described in the project's component spec: permission/quota gating, session management, model routing with fallback, tool dispatch, and the event bus an external WebSocket router streams to clients.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path == "" {
		if env := os.Getenv("ORCHESTRATOR_CONFIG"); env != "" {
			return env
		}
		return "orchestrator.yaml"
	}
	return path
}
