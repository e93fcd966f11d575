package testutil

import (
	"time"

	"github.com/hupe1980/driftwatch/core"
)

// RecordBuilder provides a fluent helper for constructing metric records in
// tests. Example:
//
//	rec := NewRecordBuilder("rec-1").Run("run-1").Turn(2).Value("pushback_rate", 0.5).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type RecordBuilder struct {
	id          string
	runID       string
	scenario    string
	model       string
	branch      string
	turn        int
	status      core.BranchStatus
	values      map[string]any
	errors      map[string]string
	annotations []string
	primary     core.TokenUsage
	probeUsage  core.TokenUsage
	probes      []core.AnchorProbeResult
	timestamp   time.Time
}

// NewRecordBuilder creates a builder with defaults: run "run-1", scenario
// "scenario", model "model", branch "baseline", turn 1, status running.
func NewRecordBuilder(id string) *RecordBuilder {
	return &RecordBuilder{
		id:       id,
		runID:    "run-1",
		scenario: "scenario",
		model:    "model",
		branch:   "baseline",
		turn:     1,
		status:   core.BranchRunning,
	}
}

// Run sets the run ID (chainable).
func (b *RecordBuilder) Run(id string) *RecordBuilder { b.runID = id; return b }

// Scenario sets the scenario name (chainable).
func (b *RecordBuilder) Scenario(name string) *RecordBuilder { b.scenario = name; return b }

// Model sets the model id (chainable).
func (b *RecordBuilder) Model(name string) *RecordBuilder { b.model = name; return b }

// Branch sets the branch id (chainable).
func (b *RecordBuilder) Branch(id string) *RecordBuilder { b.branch = id; return b }

// Turn sets the 1-based user-turn index (chainable).
func (b *RecordBuilder) Turn(n int) *RecordBuilder { b.turn = n; return b }

// Status sets the branch status at emission time (chainable).
func (b *RecordBuilder) Status(s core.BranchStatus) *RecordBuilder { b.status = s; return b }

// Value sets one evaluator metric (chainable).
func (b *RecordBuilder) Value(key string, v any) *RecordBuilder {
	if b.values == nil {
		b.values = map[string]any{}
	}
	b.values[key] = v
	return b
}

// Values merges a metric map (chainable).
func (b *RecordBuilder) Values(vals map[string]any) *RecordBuilder {
	for k, v := range vals {
		b.Value(k, v)
	}
	return b
}

// EvaluatorError records a failed evaluator (chainable).
func (b *RecordBuilder) EvaluatorError(name, msg string) *RecordBuilder {
	if b.errors == nil {
		b.errors = map[string]string{}
	}
	b.errors[name] = msg
	return b
}

// Annotation appends a free-form note (chainable).
func (b *RecordBuilder) Annotation(note string) *RecordBuilder {
	b.annotations = append(b.annotations, note)
	return b
}

// PrimaryUsage sets the token usage of the primary dispatch (chainable).
func (b *RecordBuilder) PrimaryUsage(in, out int) *RecordBuilder {
	b.primary = core.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	return b
}

// ProbeUsage sets the aggregate token usage of the probe wave (chainable).
func (b *RecordBuilder) ProbeUsage(in, out int) *RecordBuilder {
	b.probeUsage = core.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	return b
}

// Probe appends an anchor probe result (chainable).
func (b *RecordBuilder) Probe(p core.AnchorProbeResult) *RecordBuilder {
	b.probes = append(b.probes, p)
	return b
}

// Timestamp overrides the emission time (chainable). Defaults to now.
func (b *RecordBuilder) Timestamp(ts time.Time) *RecordBuilder { b.timestamp = ts; return b }

// Build constructs the *core.MetricRecord.
func (b *RecordBuilder) Build() *core.MetricRecord {
	ts := b.timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &core.MetricRecord{
		ID:            b.id,
		RunID:         b.runID,
		Scenario:      b.scenario,
		Model:         b.model,
		Branch:        b.branch,
		Turn:          b.turn,
		Status:        b.status,
		Values:        b.values,
		Errors:        b.errors,
		Annotations:   append([]string{}, b.annotations...),
		TokensPrimary: b.primary,
		TokensProbes:  b.probeUsage,
		Probes:        append([]core.AnchorProbeResult{}, b.probes...),
		Timestamp:     ts,
	}
}
