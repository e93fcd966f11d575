package budget

import "github.com/hupe1980/driftwatch/core"

// Price lists the USD cost per 1K tokens for one model.
type Price struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// PriceTable maps a model id to its pricing. Unknown models cost zero.
type PriceTable map[string]Price

// Cost returns the USD cost of the given usage for a model.
func (t PriceTable) Cost(model string, usage core.TokenUsage) float64 {
	p, ok := t[model]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1000.0*p.InputPer1K +
		float64(usage.OutputTokens)/1000.0*p.OutputPer1K
}

// Estimate returns the projected USD cost for a token split before dispatch.
func (t PriceTable) Estimate(model string, inTokens, outTokens int) float64 {
	return t.Cost(model, core.TokenUsage{InputTokens: inTokens, OutputTokens: outTokens})
}
