package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/driftwatch/budget"
	"github.com/hupe1980/driftwatch/dispatch"
	"github.com/hupe1980/driftwatch/runner"
)

// Config is the root configuration for driftwatch runs.
type Config struct {
	// ScenariosDir is the default scenario search path.
	ScenariosDir string `yaml:"scenarios_dir"`

	// OutputDir is the base directory for run artifacts. Each run writes
	// into a UTC-timestamped subdirectory beneath it.
	OutputDir string `yaml:"output_dir"`

	Run        RunConfig                 `yaml:"run"`
	Generation GenerationConfig          `yaml:"generation"`
	Budget     BudgetConfig              `yaml:"budget"`
	Retry      RetryConfig               `yaml:"retry"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Pricing    map[string]ModelPrice     `yaml:"cost_per_1k_tokens"`
	Logging    LoggingConfig             `yaml:"logging"`
}

// RunConfig tunes run orchestration.
type RunConfig struct {
	// ProbesPerPoint overrides every scenario's probe count when positive.
	// Zero keeps each scenario's own value.
	ProbesPerPoint int `yaml:"probes_per_point"`

	// Timeout bounds a single model dispatch.
	Timeout time.Duration `yaml:"timeout"`
}

// GenerationConfig holds the sampling parameters for all dispatches.
type GenerationConfig struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Seed        int     `yaml:"seed"`
	Logprobs    bool    `yaml:"logprobs"`
	TopLogprobs int     `yaml:"top_logprobs"`
}

// BudgetConfig bounds the load and spend of a run.
type BudgetConfig struct {
	BudgetUSD         float64 `yaml:"budget_usd"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RetryConfig governs re-dispatch of transient failures. Jitter is on by
// default; set disable_jitter to get deterministic schedules.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Factor        float64       `yaml:"factor"`
	DisableJitter bool          `yaml:"disable_jitter"`
}

// ProviderConfig describes one model provider. APIKey supports ${ENV}
// expansion; empty falls back to the provider SDK's own environment lookup.
type ProviderConfig struct {
	DefaultModel string `yaml:"default_model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
}

// ModelPrice lists USD per 1K tokens for one model.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// LoggingConfig controls log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the stock experiment configuration: moderate temperature,
// pinned seed, logprobs on, four concurrent dispatches under a ten dollar
// ceiling.
func Default() *Config {
	return &Config{
		ScenariosDir: "scenarios",
		OutputDir:    "outputs",
		Run: RunConfig{
			Timeout: 30 * time.Second,
		},
		Generation: GenerationConfig{
			Temperature: 0.7,
			MaxTokens:   1000,
			Seed:        42,
			Logprobs:    true,
			TopLogprobs: 5,
		},
		Budget: BudgetConfig{
			BudgetUSD:     10,
			MaxConcurrent: 4,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Factor:       2.0,
		},
		Providers: map[string]ProviderConfig{
			"openai":    {DefaultModel: "gpt-4o-mini"},
			"anthropic": {DefaultModel: "claude-3-5-haiku-latest"},
		},
		Pricing: map[string]ModelPrice{
			"gpt-4o":                   {Input: 0.0025, Output: 0.01},
			"gpt-4o-mini":              {Input: 0.00015, Output: 0.0006},
			"claude-3-5-sonnet-latest": {Input: 0.003, Output: 0.015},
			"claude-3-5-haiku-latest":  {Input: 0.0008, Output: 0.004},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the configuration file. Environment variables in
// the file are expanded before parsing; missing fields fall back to the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.ScenariosDir == "" {
		cfg.ScenariosDir = def.ScenariosDir
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}

	if cfg.Run.Timeout == 0 {
		cfg.Run.Timeout = def.Run.Timeout
	}

	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = def.Generation.Temperature
	}

	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = def.Generation.MaxTokens
	}

	if cfg.Generation.TopLogprobs == 0 {
		cfg.Generation.TopLogprobs = def.Generation.TopLogprobs
	}

	if cfg.Budget.BudgetUSD == 0 {
		cfg.Budget.BudgetUSD = def.Budget.BudgetUSD
	}

	if cfg.Budget.MaxConcurrent == 0 {
		cfg.Budget.MaxConcurrent = def.Budget.MaxConcurrent
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}

	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = def.Retry.InitialDelay
	}

	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}

	if cfg.Retry.Factor == 0 {
		cfg.Retry.Factor = def.Retry.Factor
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = def.Providers
	}

	if len(cfg.Pricing) == 0 {
		cfg.Pricing = def.Pricing
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2, got %g", c.Generation.Temperature)
	}

	if c.Generation.MaxTokens < 0 {
		return fmt.Errorf("generation.max_tokens must not be negative, got %d", c.Generation.MaxTokens)
	}

	if c.Budget.BudgetUSD < 0 {
		return fmt.Errorf("budget.budget_usd must not be negative, got %g", c.Budget.BudgetUSD)
	}

	if c.Run.ProbesPerPoint < 0 {
		return fmt.Errorf("run.probes_per_point must not be negative, got %d", c.Run.ProbesPerPoint)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}

	for model, p := range c.Pricing {
		if p.Input < 0 || p.Output < 0 {
			return fmt.Errorf("cost_per_1k_tokens.%s must not be negative", model)
		}
	}

	return nil
}

// Params converts the generation section to runner sampling parameters.
func (g GenerationConfig) Params() runner.Generation {
	return runner.Generation{
		Temperature: g.Temperature,
		MaxTokens:   g.MaxTokens,
		Seed:        g.Seed,
		Logprobs:    g.Logprobs,
		TopLogprobs: g.TopLogprobs,
	}
}

// Limits converts the budget section to controller limits.
func (b BudgetConfig) Limits() budget.Limits {
	return budget.Limits{
		MaxConcurrent:     b.MaxConcurrent,
		BudgetUSD:         b.BudgetUSD,
		RequestsPerSecond: b.RequestsPerSecond,
	}
}

// Policy converts the retry section to a dispatch retry policy.
func (r RetryConfig) Policy() dispatch.RetryPolicy {
	return dispatch.RetryPolicy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Factor:       r.Factor,
		Jitter:       !r.DisableJitter,
	}
}

// PriceTable converts the pricing section for the budget controller.
func (c *Config) PriceTable() budget.PriceTable {
	t := make(budget.PriceTable, len(c.Pricing))

	for model, p := range c.Pricing {
		t[model] = budget.Price{InputPer1K: p.Input, OutputPer1K: p.Output}
	}

	return t
}
