package runner

import "github.com/hupe1980/driftwatch/core"

// Observer receives lifecycle callbacks during a run for progress tracking
// and UI updates. Implementations must be goroutine-safe; callbacks fire
// from concurrent branch executor goroutines.
//
// Callbacks must return quickly. A slow observer stalls the branch that
// invoked it, not just the reporting.
type Observer interface {
	// OnRunStarted fires once before any executor launches.
	OnRunStarted(runID string, scenario *core.Scenario, models []string, branches []core.Branch)

	// OnBranchStarted fires when one (model, branch) executor begins.
	OnBranchStarted(runID, model string, branch core.Branch)

	// OnTurnCompleted fires after each turn's record is emitted, including
	// terminal failure records.
	OnTurnCompleted(runID string, rec *core.MetricRecord)

	// OnBranchCompleted fires when one executor reaches a terminal state.
	OnBranchCompleted(runID string, outcome BranchOutcome)

	// OnRunCompleted fires once after every executor finished.
	OnRunCompleted(runID string, summary *Summary)
}

// NoOpObserver ignores every callback.
type NoOpObserver struct{}

// OnRunStarted implements Observer.
func (NoOpObserver) OnRunStarted(string, *core.Scenario, []string, []core.Branch) {}

// OnBranchStarted implements Observer.
func (NoOpObserver) OnBranchStarted(string, string, core.Branch) {}

// OnTurnCompleted implements Observer.
func (NoOpObserver) OnTurnCompleted(string, *core.MetricRecord) {}

// OnBranchCompleted implements Observer.
func (NoOpObserver) OnBranchCompleted(string, BranchOutcome) {}

// OnRunCompleted implements Observer.
func (NoOpObserver) OnRunCompleted(string, *Summary) {}
