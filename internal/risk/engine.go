package risk

import (
	"fmt"
	"math"
	"time"

	"main/internal/schema"
)

// Limits defines pre-trade risk thresholds.
type Limits struct {
	MaxPositionPct float64 `json:"maxPositionPct"` // single-name cap as fraction of NAV
	MaxLeverage    float64 `json:"maxLeverage"`    // gross exposure over NAV
	MaxVaRPct      float64 `json:"maxVarPct"`      // portfolio VaR ceiling as fraction of NAV
	SoftRatio      float64 `json:"softRatio"`      // fraction of a limit that counts as a soft breach
}

// DefaultLimits returns the baseline thresholds.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct: 0.10,
		MaxLeverage:    1.2,
		MaxVaRPct:      0.04,
		SoftRatio:      0.8,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxPositionPct <= 0 {
		l.MaxPositionPct = 0.10
	}
	if l.MaxLeverage <= 0 {
		l.MaxLeverage = 1.2
	}
	if l.MaxVaRPct <= 0 {
		l.MaxVaRPct = 0.04
	}
	if l.SoftRatio <= 0 || l.SoftRatio >= 1 {
		l.SoftRatio = 0.8
	}
	return l
}

// PortfolioView is the read-only ledger surface the engine evaluates against.
type PortfolioView interface {
	NAV() float64
	Exposures() map[string]float64
}

// MetricsSource computes portfolio VaR for a projected exposure table. The
// engine only enforces thresholds on the returned values.
type MetricsSource interface {
	VaR(nav float64, exposures map[string]float64) (amount, pct float64)
}

// Engine performs pre-trade checks and issues approve, scale, or reject
// decisions. A single-name breach scales quantity down to the cap; leverage
// and VaR breaches reject outright.
type Engine struct {
	limits  Limits
	metrics MetricsSource
}

// NewEngine creates an engine with the given limits and metrics collaborator.
func NewEngine(limits Limits, metrics MetricsSource) *Engine {
	return &Engine{limits: limits.withDefaults(), metrics: metrics}
}

// Evaluate projects the proposal onto the portfolio and applies the limit
// checks. The decision is immutable once issued.
func (e *Engine) Evaluate(proposal schema.TradeProposal, portfolio PortfolioView) schema.RiskDecision {
	decision := schema.RiskDecision{
		ProposalID: proposal.ID,
		Symbol:     proposal.Symbol,
		Status:     schema.RiskApprove,
		Quantity:   proposal.Quantity,
		IssuedAt:   time.Now().UTC(),
	}

	nav := portfolio.NAV()
	safeNAV := math.Max(nav, 1)
	exposures := portfolio.Exposures()
	projected := make(map[string]float64, len(exposures)+1)
	for symbol, value := range exposures {
		projected[symbol] = value
	}
	signed := proposal.Side.Signed(proposal.Quantity) * proposal.EstPrice
	projected[proposal.Symbol] += signed

	gross := 0.0
	for _, value := range projected {
		gross += math.Abs(value)
	}
	leverage := gross / safeNAV

	varAmount, varPct := 0.0, 0.0
	if e.metrics != nil {
		varAmount, varPct = e.metrics.VaR(nav, projected)
	}
	positionPct := math.Abs(projected[proposal.Symbol]) / safeNAV
	decision.Metrics = schema.RiskMetrics{
		NAV:           nav,
		GrossExposure: gross,
		Leverage:      leverage,
		VaRAmount:     varAmount,
		VaRPct:        varPct,
		PositionPct:   positionPct,
	}

	if leverage > e.limits.MaxLeverage {
		decision.Status = schema.RiskReject
		decision.Quantity = 0
		decision.Reason = fmt.Sprintf("gross_leverage_limit: projected=%.3f limit=%.3f", leverage, e.limits.MaxLeverage)
		return decision
	}
	if varPct > e.limits.MaxVaRPct {
		decision.Status = schema.RiskReject
		decision.Quantity = 0
		decision.Reason = fmt.Sprintf("var_limit: projected=%.4f limit=%.4f", varPct, e.limits.MaxVaRPct)
		return decision
	}

	positionCap := e.limits.MaxPositionPct * safeNAV
	if positionPct > e.limits.MaxPositionPct {
		existing := exposures[proposal.Symbol]
		headroom := positionCap - math.Abs(existing)
		scaled := 0.0
		if headroom > 0 && proposal.EstPrice > 0 {
			scaled = math.Floor(headroom / proposal.EstPrice)
		}
		if scaled <= 0 {
			decision.Status = schema.RiskReject
			decision.Quantity = 0
			decision.Reason = fmt.Sprintf("position_limit: projected=%.2f cap=%.2f no headroom", math.Abs(projected[proposal.Symbol]), positionCap)
			return decision
		}
		decision.Status = schema.RiskScale
		decision.Quantity = scaled
		decision.Reason = fmt.Sprintf("position_limit: notional %.2f exceeds cap %.2f, scaled %v -> %v", math.Abs(projected[proposal.Symbol]), positionCap, proposal.Quantity, scaled)
		return decision
	}

	if leverage >= e.limits.SoftRatio*e.limits.MaxLeverage {
		decision.Reason = fmt.Sprintf("soft_breach: leverage at %.0f%% of limit", 100*leverage/e.limits.MaxLeverage)
	} else if varPct >= e.limits.SoftRatio*e.limits.MaxVaRPct {
		decision.Reason = fmt.Sprintf("soft_breach: var at %.0f%% of limit", 100*varPct/e.limits.MaxVaRPct)
	}
	return decision
}
