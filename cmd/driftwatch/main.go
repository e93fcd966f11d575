// Package main provides the CLI entry point for the driftwatch probing
// harness.
//
// Driftwatch drives scripted multi-turn scenarios against chat models,
// dispatches anchor questions at fixed probing points and scores the
// replies for pushback, semantic drift and cross-probe consistency.
//
// # Basic Usage
//
// Run every scenario in a directory:
//
//	driftwatch run --scenarios scenarios --models openai/gpt-4o-mini
//
// Inspect and validate scenario files:
//
//	driftwatch scenarios list
//	driftwatch scenarios validate scenarios
//
// Project the worst-case cost without dispatching anything:
//
//	driftwatch estimate --models anthropic/claude-3-5-haiku-latest
//
// # Environment Variables
//
//   - DRIFTWATCH_CONFIG: path to the configuration file (default: driftwatch.yaml)
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
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
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driftwatch",
		Short: "Driftwatch - conversation drift probing harness",
		Long: `Driftwatch measures how stable model answers stay under conversational
pressure. It runs scripted scenarios against chat models, probes anchor
questions at fixed points and records per-turn stability metrics.

Supported providers: OpenAI (GPT), Anthropic (Claude)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildScenariosCmd(),
		buildEstimateCmd(),
	)

	return rootCmd
}
