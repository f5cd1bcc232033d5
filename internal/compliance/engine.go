package compliance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"main/internal/schema"
)

var defaultProhibitedTokens = []string{
	"spoofing", "layering", "insider", "pump-and-dump", "pump_and_dump", "front_running",
}

var insiderFlags = []string{"insider_signal", "mnpi_flag", "material_non_public"}

// Policy defines the deterministic compliance screens.
type Policy struct {
	Restricted       []string `json:"restricted"`       // symbols that can never trade
	ProhibitedTokens []string `json:"prohibitedTokens"` // tactic keywords that trip the kill switch
	MaxPositionPct   float64  `json:"maxPositionPct"`   // concentration cap as fraction of NAV
	ReviewConviction float64  `json:"reviewConviction"` // below this conviction a trade is held for review
}

// DefaultPolicy returns the baseline screen set.
func DefaultPolicy() Policy {
	return Policy{
		ProhibitedTokens: defaultProhibitedTokens,
		MaxPositionPct:   0.2,
		ReviewConviction: 0.15,
	}
}

func (p Policy) withDefaults() Policy {
	if len(p.ProhibitedTokens) == 0 {
		p.ProhibitedTokens = defaultProhibitedTokens
	}
	if p.MaxPositionPct <= 0 {
		p.MaxPositionPct = 0.2
	}
	return p
}

// PortfolioView is the read-only ledger surface screens run against.
type PortfolioView interface {
	NAV() float64
	Exposures() map[string]float64
}

// Engine screens risk-approved proposals. A reject is final for the cycle
// regardless of the risk outcome; a conditional decision is held for human
// review and not executed this cycle.
type Engine struct {
	policy     Policy
	restricted map[string]struct{}
}

// NewEngine creates an engine from the policy.
func NewEngine(policy Policy) *Engine {
	policy = policy.withDefaults()
	restricted := make(map[string]struct{}, len(policy.Restricted))
	for _, symbol := range policy.Restricted {
		restricted[strings.ToUpper(strings.TrimSpace(symbol))] = struct{}{}
	}
	return &Engine{policy: policy, restricted: restricted}
}

// Evaluate screens the proposal at the quantity risk approved or scaled.
// The second return is true when a prohibited-tactic or insider screen
// matched; the caller must escalate that on compliance.kill_switch.
func (e *Engine) Evaluate(proposal schema.TradeProposal, risk schema.RiskDecision, portfolio PortfolioView) (schema.ComplianceDecision, bool) {
	decision := schema.ComplianceDecision{
		ProposalID: proposal.ID,
		Symbol:     proposal.Symbol,
		Status:     schema.ComplianceApprove,
		IssuedAt:   time.Now().UTC(),
	}

	if _, banned := e.restricted[strings.ToUpper(proposal.Symbol)]; banned {
		decision.Status = schema.ComplianceReject
		decision.Reason = "restricted_symbol"
		decision.PolicyRefs = []string{"restricted-list"}
		return decision, false
	}

	if token, matched := e.detectProhibited(proposal); matched {
		decision.Status = schema.ComplianceReject
		decision.Reason = token
		decision.PolicyRefs = []string{"prohibited-tactics"}
		return decision, true
	}

	quantity := risk.Quantity
	if quantity <= 0 {
		quantity = proposal.Quantity
	}
	nav := math.Max(portfolio.NAV(), 1)
	existing := portfolio.Exposures()[proposal.Symbol]
	projected := math.Abs(existing + proposal.Side.Signed(quantity)*proposal.EstPrice)
	if projected/nav > e.policy.MaxPositionPct {
		decision.Status = schema.ComplianceReject
		decision.Reason = fmt.Sprintf("concentration_limit: projected=%.2f nav=%.2f cap=%.2f", projected, nav, e.policy.MaxPositionPct)
		decision.PolicyRefs = []string{"concentration-limit"}
		return decision, false
	}

	if e.policy.ReviewConviction > 0 && proposal.Conviction < e.policy.ReviewConviction {
		decision.Status = schema.ComplianceConditional
		decision.Reason = fmt.Sprintf("low_conviction_review: conviction=%.2f threshold=%.2f", proposal.Conviction, e.policy.ReviewConviction)
		decision.PolicyRefs = []string{"manual-review"}
	}
	return decision, false
}

func (e *Engine) detectProhibited(proposal schema.TradeProposal) (string, bool) {
	tokens := make([]string, 0, len(proposal.Tags)+2*len(proposal.Votes)+1)
	tokens = append(tokens, strings.ToLower(proposal.Rationale))
	for _, tag := range proposal.Tags {
		tokens = append(tokens, strings.ToLower(tag))
	}
	for _, vote := range proposal.Votes {
		tokens = append(tokens, strings.ToLower(vote.Rationale), strings.ToLower(vote.Strategy))
	}
	for _, keyword := range e.policy.ProhibitedTokens {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		for _, token := range tokens {
			if strings.Contains(token, keyword) {
				return "prohibited_tactic:" + keyword, true
			}
		}
	}
	for _, flag := range insiderFlags {
		for _, tag := range proposal.Tags {
			if strings.EqualFold(strings.TrimSpace(tag), flag) {
				return "insider_indicator:" + flag, true
			}
		}
	}
	return "", false
}
