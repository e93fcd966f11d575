package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "driftwatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Generation.Seed != 42 {
		t.Errorf("expected pinned seed 42, got %d", cfg.Generation.Seed)
	}

	if !cfg.Generation.Logprobs {
		t.Error("expected logprobs enabled by default")
	}

	if cfg.Run.ProbesPerPoint != 0 {
		t.Errorf("probes_per_point default must not override scenarios, got %d", cfg.Run.ProbesPerPoint)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
output_dir: results
budget:
  budget_usd: 2.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.OutputDir != "results" {
		t.Errorf("expected output_dir results, got %q", cfg.OutputDir)
	}

	if cfg.ScenariosDir != "scenarios" {
		t.Errorf("expected default scenarios_dir, got %q", cfg.ScenariosDir)
	}

	if cfg.Budget.BudgetUSD != 2.5 {
		t.Errorf("expected budget 2.5, got %g", cfg.Budget.BudgetUSD)
	}

	if cfg.Budget.MaxConcurrent != 4 {
		t.Errorf("expected default max_concurrent 4, got %d", cfg.Budget.MaxConcurrent)
	}

	if cfg.Generation.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %g", cfg.Generation.Temperature)
	}

	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
run:
  timeout: 45s
retry:
  initial_delay: 250ms
  max_delay: 1m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Run.Timeout != 45*time.Second {
		t.Errorf("expected timeout 45s, got %s", cfg.Run.Timeout)
	}

	if cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("expected initial_delay 250ms, got %s", cfg.Retry.InitialDelay)
	}

	if cfg.Retry.MaxDelay != time.Minute {
		t.Errorf("expected max_delay 1m, got %s", cfg.Retry.MaxDelay)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("DRIFTWATCH_TEST_KEY", "sk-test-123")

	path := writeConfig(t, `
providers:
  openai:
    default_model: gpt-4o-mini
    api_key: ${DRIFTWATCH_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := cfg.Providers["openai"].APIKey; got != "sk-test-123" {
		t.Errorf("expected expanded api key, got %q", got)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
generation:
  temperature: 3.5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	if !strings.Contains(err.Error(), "generation.temperature") {
		t.Errorf("expected temperature error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRetryPolicyConversion(t *testing.T) {
	rc := RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		Factor:        1.5,
		DisableJitter: true,
	}

	p := rc.Policy()

	if p.MaxAttempts != 5 || p.Factor != 1.5 {
		t.Errorf("unexpected policy: %+v", p)
	}

	if p.Jitter {
		t.Error("disable_jitter must turn jitter off")
	}

	if !(RetryConfig{}).Policy().Jitter {
		t.Error("jitter must default on")
	}
}

func TestBudgetLimitsConversion(t *testing.T) {
	bc := BudgetConfig{BudgetUSD: 7, MaxConcurrent: 2, RequestsPerSecond: 1.5}
	limits := bc.Limits()

	if limits.BudgetUSD != 7 || limits.MaxConcurrent != 2 || limits.RequestsPerSecond != 1.5 {
		t.Errorf("unexpected limits: %+v", limits)
	}
}

func TestGenerationParamsConversion(t *testing.T) {
	gc := GenerationConfig{Temperature: 0.2, MaxTokens: 64, Seed: 7, Logprobs: true, TopLogprobs: 3}
	gen := gc.Params()

	if gen.Temperature != 0.2 || gen.MaxTokens != 64 || gen.Seed != 7 {
		t.Errorf("unexpected generation params: %+v", gen)
	}

	if !gen.Logprobs || gen.TopLogprobs != 3 {
		t.Errorf("logprobs settings lost: %+v", gen)
	}
}

func TestPriceTableConversion(t *testing.T) {
	cfg := Default()
	table := cfg.PriceTable()

	got := table.Estimate("gpt-4o-mini", 1000, 1000)
	want := 0.00015 + 0.0006

	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected estimate %g, got %g", want, got)
	}

	if table.Estimate("unknown-model", 1000, 1000) != 0 {
		t.Error("unknown models must cost zero")
	}
}
