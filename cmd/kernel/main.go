// Package main provides the CLI entry point for the finger-kernel turn
// scheduler.
//
// # Basic Usage
//
// Run the stdio kernel loop:
//
//	kernel run
//
// Query a context ledger directly:
//
//	kernel ledger query --agent chat-codex --mode default --limit 20
//
// # Environment Variables
//
//   - CRS_OAI_KEY1 / CRS_OAI_KEY2: provider API keys
//   - FINGER_KERNEL_PROVIDER: provider id ("crsa" or "crsb")
//   - FINGER_CONFIG_PATH: path to the user config file
//   - FINGER_TOOL_DAEMON_URL / FINGER_TOOL_AGENT_ID: tool daemon location
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "kernel",
		Short:        "finger-kernel - a single-session turn scheduler and context ledger",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildLedgerCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
