package schema

import "time"

// Side describes trade direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// String returns the lowercase side name.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Signed returns quantity with the sign implied by the side.
func (s Side) Signed(quantity float64) float64 {
	if s == SideSell {
		return -quantity
	}
	return quantity
}

// StrategyVote records one evaluator's contribution to a proposal.
type StrategyVote struct {
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Quantity   float64 `json:"quantity"`
	Rationale  string  `json:"rationale"`
}

// TradeProposal is a candidate trade emitted by the Strategy Council.
// It is consumed by Risk, then Compliance, and discarded after a terminal
// decision or once ExpiresAt passes.
type TradeProposal struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Side        Side           `json:"side"`
	Quantity    float64        `json:"quantity"`
	EstPrice    float64        `json:"estPrice"`
	Conviction  float64        `json:"conviction"`
	Votes       []StrategyVote `json:"votes"`
	StopLossPct float64        `json:"stopLossPct,omitempty"`
	TakeProfit  float64        `json:"takeProfitPct,omitempty"`
	Rationale   string         `json:"rationale"`
	Tags        []string       `json:"tags,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// Notional returns the estimated notional value of the proposal.
func (p TradeProposal) Notional() float64 {
	n := p.Quantity * p.EstPrice
	if n < 0 {
		return -n
	}
	return n
}

// Expired reports whether the proposal passed its expiry at the given time.
func (p TradeProposal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// LeadStrategy returns the highest-confidence contributing strategy id.
func (p TradeProposal) LeadStrategy() string {
	lead := ""
	best := -1.0
	for _, vote := range p.Votes {
		if vote.Confidence > best {
			best = vote.Confidence
			lead = vote.Strategy
		}
	}
	return lead
}

// RiskStatus is the outcome of a risk evaluation.
type RiskStatus uint8

const (
	RiskUnknown RiskStatus = iota
	RiskApprove
	RiskScale
	RiskReject
)

// String returns the lowercase status name.
func (s RiskStatus) String() string {
	switch s {
	case RiskApprove:
		return "approve"
	case RiskScale:
		return "scale"
	case RiskReject:
		return "reject"
	default:
		return "unknown"
	}
}

// RiskMetrics carries the computed figures backing a risk decision.
type RiskMetrics struct {
	NAV           float64 `json:"nav"`
	GrossExposure float64 `json:"grossExposure"`
	Leverage      float64 `json:"leverage"`
	VaRAmount     float64 `json:"varAmount"`
	VaRPct        float64 `json:"varPct"`
	PositionPct   float64 `json:"positionPct"`
}

// RiskDecision is the Risk Engine's verdict on a proposal. Immutable once
// issued; Quantity holds the approved (possibly scaled-down) amount.
type RiskDecision struct {
	ProposalID string      `json:"proposalId"`
	Symbol     string      `json:"symbol"`
	Status     RiskStatus  `json:"status"`
	Quantity   float64     `json:"quantity"`
	Reason     string      `json:"reason"`
	Metrics    RiskMetrics `json:"metrics"`
	IssuedAt   time.Time   `json:"issuedAt"`
}

// ComplianceStatus is the outcome of a compliance screen.
type ComplianceStatus uint8

const (
	ComplianceUnknown ComplianceStatus = iota
	ComplianceApprove
	ComplianceReject
	ComplianceConditional
)

// String returns the lowercase status name.
func (s ComplianceStatus) String() string {
	switch s {
	case ComplianceApprove:
		return "approve"
	case ComplianceReject:
		return "reject"
	case ComplianceConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// ComplianceDecision is the Compliance Engine's verdict. A reject is final
// for the cycle regardless of the risk outcome; conditional means held for
// human review and not executed this cycle.
type ComplianceDecision struct {
	ProposalID string           `json:"proposalId"`
	Symbol     string           `json:"symbol"`
	Status     ComplianceStatus `json:"status"`
	PolicyRefs []string         `json:"policyRefs,omitempty"`
	Reason     string           `json:"reason"`
	IssuedAt   time.Time        `json:"issuedAt"`
}

// SliceState is the terminal state of a single execution slice.
type SliceState uint8

const (
	SlicePending SliceState = iota
	SliceFilled
	SliceFailed
	SliceCancelled
)

// String returns the lowercase state name.
func (s SliceState) String() string {
	switch s {
	case SliceFilled:
		return "filled"
	case SliceFailed:
		return "failed"
	case SliceCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// SliceResult records the outcome of one liquidity-bounded sub-order.
type SliceResult struct {
	Index     int        `json:"index"`
	Quantity  float64    `json:"quantity"`
	FillPrice float64    `json:"fillPrice,omitempty"`
	State     SliceState `json:"state"`
	Attempts  int        `json:"attempts"`
	Error     string     `json:"error,omitempty"`
}

// ReportState is the terminal state of an execution report.
type ReportState uint8

const (
	ReportPending ReportState = iota
	ReportFilled
	ReportPartFilled
	ReportCancelled
	ReportFailed
)

// String returns the lowercase state name.
func (s ReportState) String() string {
	switch s {
	case ReportFilled:
		return "filled"
	case ReportPartFilled:
		return "part_filled"
	case ReportCancelled:
		return "cancelled"
	case ReportFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ExecutionReport is the aggregated outcome of submitting an approved trade.
type ExecutionReport struct {
	ReportID     string         `json:"reportId"`
	ProposalID   string         `json:"proposalId"`
	Symbol       string         `json:"symbol"`
	Side         Side           `json:"side"`
	RequestedQty float64        `json:"requestedQty"`
	FilledQty    float64        `json:"filledQty"`
	AvgFillPrice float64        `json:"avgFillPrice"`
	SlippagePct  float64        `json:"slippagePct"`
	ResidualQty  float64        `json:"residualQty"`
	Failures     int            `json:"failures"`
	Slices       []SliceResult  `json:"slices"`
	State        ReportState    `json:"state"`
	Votes        []StrategyVote `json:"votes,omitempty"`
	CompletedAt  time.Time      `json:"completedAt"`
}

// KillSwitchState is the global trading-halt flag snapshot.
type KillSwitchState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	Source      Topic     `json:"source,omitempty"`
	ActivatedAt time.Time `json:"activatedAt,omitempty"`
	ResumeAuth  string    `json:"resumeAuth,omitempty"`
	ResumedAt   time.Time `json:"resumedAt,omitempty"`
}

// AuditEvent is an immutable record of a decision or tool call.
type AuditEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Agent      string         `json:"agent"`
	Type       string         `json:"type"`
	ContextRef string         `json:"contextRef,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
