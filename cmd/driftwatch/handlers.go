// handlers.go contains the command handlers plus the shared plumbing for
// resolving configuration, models and drivers.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/driftwatch"
	"github.com/hupe1980/driftwatch/budget"
	"github.com/hupe1980/driftwatch/config"
	"github.com/hupe1980/driftwatch/core"
	anthropicdriver "github.com/hupe1980/driftwatch/driver/anthropic"
	openaidriver "github.com/hupe1980/driftwatch/driver/openai"
	"github.com/hupe1980/driftwatch/logging"
	"github.com/hupe1980/driftwatch/runner"
	"github.com/hupe1980/driftwatch/scenario"
	"github.com/hupe1980/driftwatch/sink"
)

const defaultConfigName = "driftwatch.yaml"

// =============================================================================
// Run
// =============================================================================

// runRun handles the run command: cost gate, sink assembly, driver
// registration and the sequential scenario loop.
func runRun(cmd *cobra.Command, flags runFlags) error {
	cfg, err := loadConfig(cmd, flags.configPath)
	if err != nil {
		return err
	}

	applyRunOverrides(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := buildLogger(cfg)

	refs, err := resolveModels(cfg, flags.models)
	if err != nil {
		return err
	}

	scenarios, err := loadScenarios(cfg, logger)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios found at %s", cfg.ScenariosDir)
	}

	models := modelNames(refs)
	prices := cfg.PriceTable()

	estimate := budget.EstimateScenarios(scenarios, models, prices)
	if ceiling := cfg.Budget.BudgetUSD; ceiling > 0 && estimate > ceiling && !flags.force {
		return fmt.Errorf("projected cost $%.2f exceeds budget $%.2f; raise --budget or pass --force", estimate, ceiling)
	}

	runDir, err := sink.NewRunDir(cfg.OutputDir)
	if err != nil {
		return err
	}

	jsonlSink, err := sink.NewJSONL(runDir)
	if err != nil {
		return err
	}

	sinks := []core.Sink{jsonlSink, sink.NewCSV(filepath.Join(runDir, "metrics.csv"))}

	if flags.sqlitePath != "" {
		dbSink, err := sink.NewSQLite(flags.sqlitePath)
		if err != nil {
			return err
		}
		sinks = append(sinks, dbSink)
	}

	out := sink.NewMulti(sinks...)
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn("closing sinks", "error", err)
		}
	}()

	dw := driftwatch.New(func(o *driftwatch.Options) {
		o.Limits = cfg.Budget.Limits()
		o.Pricing = prices
		o.Retry = cfg.Retry.Policy()
		o.Timeout = cfg.Run.Timeout
		o.Generation = cfg.Generation.Params()
		o.ProbesPerPoint = cfg.Run.ProbesPerPoint
		o.Sink = out
		o.Logger = logger
	})

	for _, ref := range refs {
		drv, err := buildDriver(ref, cfg)
		if err != nil {
			return err
		}
		dw.RegisterDriver(ref.model, drv)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting run",
		"scenarios", len(scenarios),
		"models", strings.Join(models, ","),
		"estimate_usd", estimate,
		"output", runDir,
	)

	var (
		records int
		failed  int
	)

	for _, sc := range scenarios {
		recs, summary, err := dw.RunSync(ctx, sc, models, nil)
		records += len(recs)

		if err != nil {
			failed++

			if ctx.Err() != nil {
				logger.Warn("run interrupted", "scenario", sc.Name)
				break
			}

			logger.Error("scenario failed", "scenario", sc.Name, "error", err)
			continue
		}

		printSummary(cmd.OutOrStdout(), summary)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d scenario(s), %d record(s), $%.4f spent, artifacts in %s\n",
		len(scenarios), records, dw.Spend(), runDir)

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios did not complete", failed, len(scenarios))
	}

	return nil
}

// printSummary renders one scenario's per-branch outcomes.
func printSummary(out io.Writer, s *runner.Summary) {
	if s == nil {
		return
	}

	fmt.Fprintf(out, "\n%s (run %s)\n", s.Scenario, s.RunID)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tBRANCH\tSTATUS\tTURNS\tRECORDS")

	for _, o := range s.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", o.Model, o.Branch, o.Status, o.Turns, o.Records)
	}

	_ = w.Flush()
	fmt.Fprintf(out, "cumulative spend: $%.4f\n", s.Spend)
}

// =============================================================================
// Scenarios
// =============================================================================

// runScenariosList handles the scenarios list command.
func runScenariosList(cmd *cobra.Command, configPath, path string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.ScenariosDir
	}

	scenarios, err := scenario.NewLoader().Load(path)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no scenarios found at %s\n", path)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBEHAVIOR\tUSER TURNS\tBRANCHES\tPROBING POINTS")

	for _, sc := range scenarios {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			sc.Name, sc.BehaviorTested, sc.UserTurnCount(), len(sc.Branches), formatAnchorPoints(sc.AnchorPoints))
	}

	return w.Flush()
}

// runScenariosValidate handles the scenarios validate command. Unlike the
// loader it reports every problem of every file instead of skipping
// malformed ones.
func runScenariosValidate(cmd *cobra.Command, configPath, path string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.ScenariosDir
	}

	files, err := scenarioFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no scenario files found at %s", path)
	}

	out := cmd.OutOrStdout()
	bad := 0

	for _, file := range files {
		sc, err := scenario.ParseFile(file)
		if err == nil {
			fmt.Fprintf(out, "ok\t%s (%s)\n", file, sc.Name)
			continue
		}

		bad++
		fmt.Fprintf(out, "fail\t%s\n", file)

		var malformed *core.MalformedScenarioError
		if errors.As(err, &malformed) {
			for _, problem := range malformed.Problems {
				fmt.Fprintf(out, "\t- %s\n", problem)
			}
			continue
		}

		fmt.Fprintf(out, "\t- %v\n", err)
	}

	if bad > 0 {
		return fmt.Errorf("%d of %d scenario files failed validation", bad, len(files))
	}

	fmt.Fprintf(out, "%d scenario file(s) valid\n", len(files))

	return nil
}

// =============================================================================
// Estimate
// =============================================================================

// runEstimate handles the estimate command.
func runEstimate(cmd *cobra.Command, configPath, scenariosPath string, modelRefs []string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if scenariosPath != "" {
		cfg.ScenariosDir = scenariosPath
	}

	refs, err := resolveModels(cfg, modelRefs)
	if err != nil {
		return err
	}

	scenarios, err := scenario.NewLoader().Load(cfg.ScenariosDir)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios found at %s", cfg.ScenariosDir)
	}

	models := modelNames(refs)
	prices := cfg.PriceTable()
	out := cmd.OutOrStdout()

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tBRANCHES\tEST. COST")

	total := 0.0
	for _, sc := range scenarios {
		cost := budget.EstimateScenario(sc, models, prices)
		total += cost
		fmt.Fprintf(w, "%s\t%d\t$%.4f\n", sc.Name, len(sc.Branches), cost)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nworst case across %d model(s): $%.4f", len(models), total)
	if ceiling := cfg.Budget.BudgetUSD; ceiling > 0 {
		fmt.Fprintf(out, " (budget $%.2f)", ceiling)
	}
	fmt.Fprintln(out)

	return nil
}

// =============================================================================
// Shared plumbing
// =============================================================================

// loadConfig resolves the configuration path (flag, DRIFTWATCH_CONFIG,
// default name) and loads it. A missing file is only an error when the
// caller asked for it explicitly; otherwise the built-in defaults apply.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	explicit := path != "" || cmd.Flags().Changed("config")

	if path == "" {
		if env := os.Getenv("DRIFTWATCH_CONFIG"); env != "" {
			path = env
			explicit = true
		}
	}
	if path == "" {
		path = defaultConfigName
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return config.Load(path)
}

func applyRunOverrides(cfg *config.Config, flags runFlags) {
	if flags.scenarios != "" {
		cfg.ScenariosDir = flags.scenarios
	}
	if flags.output != "" {
		cfg.OutputDir = flags.output
	}
	if flags.budgetUSD > 0 {
		cfg.Budget.BudgetUSD = flags.budgetUSD
	}
	if flags.probes > 0 {
		cfg.Run.ProbesPerPoint = flags.probes
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
}

func buildLogger(cfg *config.Config) logging.Logger {
	lc := logging.DefaultLoggerConfig()
	lc.Level = logging.ParseLevel(cfg.Logging.Level)
	lc.Format = cfg.Logging.Format
	lc.Output = os.Stderr
	lc.AddSource = false
	lc.Component = "driftwatch"

	return logging.NewLogger(lc)
}

func loadScenarios(cfg *config.Config, logger logging.Logger) ([]*core.Scenario, error) {
	loader := scenario.NewLoader(func(o *scenario.LoaderOptions) {
		o.Logger = logger
	})

	return loader.Load(cfg.ScenariosDir)
}

// modelRef pairs a provider with a model id.
type modelRef struct {
	provider string
	model    string
}

// resolveModels parses provider/model references, falling back to each
// configured provider's default model when none are given.
func resolveModels(cfg *config.Config, refs []string) ([]modelRef, error) {
	if len(refs) == 0 {
		var out []modelRef

		for _, provider := range []string{"openai", "anthropic"} {
			if pc, ok := cfg.Providers[provider]; ok && pc.DefaultModel != "" {
				out = append(out, modelRef{provider: provider, model: pc.DefaultModel})
			}
		}

		if len(out) == 0 {
			return nil, fmt.Errorf("no models requested and no provider defaults configured")
		}

		return out, nil
	}

	out := make([]modelRef, 0, len(refs))
	for _, ref := range refs {
		parsed, err := splitModelRef(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}

	return out, nil
}

// splitModelRef parses "provider/model". Bare model names are routed by
// their id prefix.
func splitModelRef(ref string) (modelRef, error) {
	if i := strings.IndexByte(ref, '/'); i > 0 && i < len(ref)-1 {
		return modelRef{provider: ref[:i], model: ref[i+1:]}, nil
	}

	switch {
	case strings.HasPrefix(ref, "gpt-"), strings.HasPrefix(ref, "o1"), strings.HasPrefix(ref, "chatgpt-"):
		return modelRef{provider: "openai", model: ref}, nil
	case strings.HasPrefix(ref, "claude"):
		return modelRef{provider: "anthropic", model: ref}, nil
	}

	return modelRef{}, fmt.Errorf("cannot infer provider for model %q; use provider/model", ref)
}

func modelNames(refs []modelRef) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.model)
	}

	return out
}

// buildDriver constructs the provider driver for one model reference.
func buildDriver(ref modelRef, cfg *config.Config) (core.ChatDriver, error) {
	pc := cfg.Providers[ref.provider]
	maxTokens := int64(cfg.Generation.MaxTokens)

	switch ref.provider {
	case "openai":
		return openaidriver.New(func(o *openaidriver.Options) {
			o.Model = ref.model
			if maxTokens > 0 {
				o.MaxTokens = maxTokens
			}
			o.APIKey = pc.APIKey
			o.BaseURL = pc.BaseURL
		}), nil

	case "anthropic":
		return anthropicdriver.New(func(o *anthropicdriver.Options) {
			o.Model = anthropicsdk.Model(ref.model)
			if maxTokens > 0 {
				o.MaxTokens = maxTokens
			}
			o.APIKey = pc.APIKey
			o.BaseURL = pc.BaseURL
		}), nil
	}

	return nil, fmt.Errorf("unknown provider %q (expected openai or anthropic)", ref.provider)
}

// scenarioFiles returns the .md files to validate: the path itself for a
// file, its direct .md children for a directory.
func scenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}

	return files, nil
}

func formatAnchorPoints(pts []int) string {
	if len(pts) == 0 {
		return "every turn"
	}

	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = strconv.Itoa(p)
	}

	return strings.Join(parts, ",")
}
