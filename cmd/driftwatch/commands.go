// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it to
// its handler.
package main

import (
	"github.com/spf13/cobra"
)

// runFlags carries the command line overrides for a run.
type runFlags struct {
	configPath string
	scenarios  string
	models     []string
	output     string
	budgetUSD  float64
	probes     int
	sqlitePath string
	logLevel   string
	logFormat  string
	force      bool
}

// buildRunCmd creates the "run" command, the primary entry point for
// executing scenarios against live providers.
func buildRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scenarios against chat models",
		Long: `Run every scenario at the given path against the requested models.

Before dispatching anything the projected worst-case cost is compared to
the configured budget; runs that would exceed it are refused unless
--force is set. Each invocation writes a timestamped run directory with
streamed JSONL records, per-branch transcripts and a metrics.csv.`,
		Example: `  # Run the scenarios directory against one model
  driftwatch run --models openai/gpt-4o-mini

  # Compare two models with a hard spend ceiling
  driftwatch run --models openai/gpt-4o --models anthropic/claude-3-5-sonnet-latest --budget 5

  # Keep a queryable copy of every artifact
  driftwatch run --models openai/gpt-4o-mini --sqlite results.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML configuration file (default driftwatch.yaml)")
	cmd.Flags().StringVarP(&flags.scenarios, "scenarios", "s", "", "Scenario file or directory (default from config)")
	cmd.Flags().StringSliceVarP(&flags.models, "models", "m", nil, "Models to probe as provider/model (default: each provider's default model)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Base directory for run artifacts (default from config)")
	cmd.Flags().Float64Var(&flags.budgetUSD, "budget", 0, "Spend ceiling in USD (default from config)")
	cmd.Flags().IntVar(&flags.probes, "probes", 0, "Override probes per anchor point for every scenario")
	cmd.Flags().StringVar(&flags.sqlitePath, "sqlite", "", "Also persist artifacts into a SQLite database at this path")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format: text or json (default from config)")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Run even when the projected cost exceeds the budget")

	return cmd
}

// buildScenariosCmd creates the "scenarios" command group.
func buildScenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Inspect and validate scenario files",
	}

	cmd.AddCommand(buildScenariosListCmd(), buildScenariosValidateCmd())

	return cmd
}

func buildScenariosListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list [path]",
		Short: "List scenarios with their branches and probing points",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runScenariosList(cmd, configPath, path)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default driftwatch.yaml)")

	return cmd
}

func buildScenariosValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate scenario files and report every problem",
		Long: `Parse each scenario file and report every validation problem instead of
stopping at the first. Exits non-zero when any file is malformed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runScenariosValidate(cmd, configPath, path)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default driftwatch.yaml)")

	return cmd
}

// buildEstimateCmd creates the "estimate" command that projects run cost
// without dispatching anything.
func buildEstimateCmd() *cobra.Command {
	var (
		configPath string
		scenarios  string
		models     []string
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Project the worst-case cost of a run",
		Long: `Project the worst-case cost of running scenarios against models using the
configured per-1K token pricing. Nothing is dispatched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd, configPath, scenarios, models)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default driftwatch.yaml)")
	cmd.Flags().StringVarP(&scenarios, "scenarios", "s", "", "Scenario file or directory (default from config)")
	cmd.Flags().StringSliceVarP(&models, "models", "m", nil, "Models to price as provider/model (default: each provider's default model)")

	return cmd
}
