package core

import "time"

// BranchStatus tracks a branch executor through its lifecycle.
type BranchStatus string

// Branch lifecycle states. A branch moves initialized -> running and ends in
// exactly one of the terminal states.
const (
	BranchInitialized  BranchStatus = "initialized"
	BranchRunning      BranchStatus = "running"
	BranchCompleted    BranchStatus = "completed"
	BranchFailed       BranchStatus = "failed"
	BranchBudgetHalted BranchStatus = "budget_halted"
)

// Terminal reports whether the status ends the branch.
func (s BranchStatus) Terminal() bool {
	switch s {
	case BranchCompleted, BranchFailed, BranchBudgetHalted:
		return true
	}
	return false
}

// AnchorProbeResult is the outcome of one transient anchor dispatch. Probe
// exchanges never enter the live transcript; append-style branches fold in at
// most one per question after the probing point completes.
type AnchorProbeResult struct {
	Question      string        `json:"question"`
	QuestionIndex int           `json:"question_index"`
	ProbeIndex    int           `json:"probe_index"`
	Turn          int           `json:"turn"`
	Response      *ChatResponse `json:"response,omitempty"`
	Err           string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// OK reports whether the probe dispatch succeeded.
func (r AnchorProbeResult) OK() bool {
	return r.Err == "" && r.Response != nil
}

// Answer returns the probe reply text, or "" for a failed probe.
func (r AnchorProbeResult) Answer() string {
	if r.Response == nil {
		return ""
	}
	return r.Response.Content
}

// MetricRecord is the unit of observation: one per (scenario, model, branch,
// turn). Records are immutable once emitted.
type MetricRecord struct {
	ID       string       `json:"id"`
	RunID    string       `json:"run_id"`
	Scenario string       `json:"scenario"`
	Model    string       `json:"model"`
	Branch   string       `json:"branch"`
	Turn     int          `json:"turn"`
	Status   BranchStatus `json:"status"`

	// Values holds the merged evaluator metrics for the turn. Errors maps
	// evaluator name to failure message for evaluators that did not
	// contribute; Annotations carries free-form notes (collisions,
	// terminal failure causes).
	Values      map[string]any    `json:"values,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
	Annotations []string          `json:"annotations,omitempty"`

	TokensPrimary TokenUsage          `json:"tokens_primary"`
	TokensProbes  TokenUsage          `json:"tokens_probes"`
	Probes        []AnchorProbeResult `json:"probes,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}
