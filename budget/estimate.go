package budget

import "github.com/hupe1980/driftwatch/core"

// Tuning constants for pre-run cost estimation. Averages are deliberately
// coarse; the gate exists to catch order-of-magnitude mistakes, not to
// predict invoices.
const (
	estAvgTokensPerCall = 500
	estProbeOverhead    = 2
	estInputShare       = 0.7
)

// EstimateScenario projects the USD cost of running a scenario across the
// given models and every scenario branch: one primary call per user turn per
// branch, doubled for probe overhead, at 500 average tokens per call with a
// 70/30 input/output split.
func EstimateScenario(s *core.Scenario, models []string, prices PriceTable) float64 {
	calls := s.UserTurnCount() * len(s.Branches) * estProbeOverhead
	inTokens := int(float64(calls*estAvgTokensPerCall) * estInputShare)
	outTokens := calls*estAvgTokensPerCall - inTokens

	total := 0.0
	for _, model := range models {
		total += prices.Estimate(model, inTokens, outTokens)
	}
	return total
}

// EstimateScenarios sums EstimateScenario over a set of scenarios.
func EstimateScenarios(scenarios []*core.Scenario, models []string, prices PriceTable) float64 {
	total := 0.0
	for _, s := range scenarios {
		total += EstimateScenario(s, models, prices)
	}
	return total
}
