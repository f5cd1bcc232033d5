package risk

import "math"

// Scenario is a deterministic percentage shock applied to all exposures.
type Scenario struct {
	Name        string  `json:"name"`
	ShockPct    float64 `json:"shockPct"`
	Description string  `json:"description"`
}

// StressResult is the portfolio impact of one scenario.
type StressResult struct {
	Scenario Scenario `json:"scenario"`
	PnL      float64  `json:"pnl"`
	PnLPct   float64  `json:"pnlPct"`
}

// Breached reports whether the loss exceeds the threshold fraction of NAV.
func (r StressResult) Breached(thresholdPct float64) bool {
	return r.PnLPct <= -math.Abs(thresholdPct)
}

// DefaultScenarios returns the stock shock set.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "broad_market_drop_5", ShockPct: -0.05, Description: "equities gap down 5% intraday"},
		{Name: "single_name_gap_10", ShockPct: -0.10, Description: "concentrated position gaps 10% against book"},
		{Name: "liquidity_crunch", ShockPct: -0.07, Description: "cross-asset deleveraging and liquidity crunch"},
	}
}

// StressHarness applies shock scenarios to an exposure table.
type StressHarness struct {
	scenarios []Scenario
}

// NewStressHarness creates a harness; nil scenarios selects the defaults.
func NewStressHarness(scenarios []Scenario) *StressHarness {
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	return &StressHarness{scenarios: scenarios}
}

// Run returns the per-scenario impact given exposures and NAV.
func (h *StressHarness) Run(exposures map[string]float64, nav float64) []StressResult {
	safeNAV := math.Max(nav, 1)
	results := make([]StressResult, 0, len(h.scenarios))
	for _, scenario := range h.scenarios {
		pnl := 0.0
		for _, value := range exposures {
			pnl += value * scenario.ShockPct
		}
		results = append(results, StressResult{
			Scenario: scenario,
			PnL:      pnl,
			PnLPct:   pnl / safeNAV,
		})
	}
	return results
}

// Worst returns the breaching result with the deepest loss, if any.
func Worst(results []StressResult, thresholdPct float64) (StressResult, bool) {
	worst := StressResult{}
	found := false
	for _, result := range results {
		if !result.Breached(thresholdPct) {
			continue
		}
		if !found || result.PnLPct < worst.PnLPct {
			worst = result
			found = true
		}
	}
	return worst, found
}
