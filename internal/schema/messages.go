package schema

// Message is a typed bus payload. The variant set is closed: each topic
// family maps to exactly one concrete message type, so handlers can switch
// on the concrete type instead of inspecting loose maps.
type Message interface {
	Topic() Topic
}

// ProposalMessage carries a council proposal on strategy.proposal.<id>.
type ProposalMessage struct {
	Proposal TradeProposal
}

// Topic implements Message.
func (m ProposalMessage) Topic() Topic {
	return StrategyProposalTopic(m.Proposal.LeadStrategy())
}

// FeedbackMessage adjusts a strategy's adaptive weight.
type FeedbackMessage struct {
	Strategy string
	Delta    float64
	Reason   string
}

// Topic implements Message.
func (m FeedbackMessage) Topic() Topic { return TopicStrategyFeedback }

// RiskAlertMessage is a non-fatal risk observation (volatility, drawdown).
type RiskAlertMessage struct {
	Kind   string
	Symbol string
	Detail map[string]float64
}

// Topic implements Message.
func (m RiskAlertMessage) Topic() Topic { return TopicRiskAlert }

// RiskRejectMessage carries a rejecting risk decision.
type RiskRejectMessage struct {
	Decision RiskDecision
}

// Topic implements Message.
func (m RiskRejectMessage) Topic() Topic { return TopicRiskReject }

// StopLossMessage signals a position moved past its stop-loss threshold.
type StopLossMessage struct {
	Symbol      string
	Price       float64
	AverageCost float64
	Quantity    float64
	LossPct     float64 // adverse move in percent, e.g. -8.3
}

// Topic implements Message.
func (m StopLossMessage) Topic() Topic { return TopicRiskStopLoss }

// StressBreachMessage reports a stress scenario loss beyond threshold.
type StressBreachMessage struct {
	Scenario string
	PnL      float64
	PnLPct   float64
	NAV      float64
}

// Topic implements Message.
func (m StressBreachMessage) Topic() Topic { return TopicRiskStressBreach }

// KillSwitchMessage requests a trading halt. Source selects the topic it
// travels on; only risk, compliance, and runtime sources are valid.
type KillSwitchMessage struct {
	Source Topic
	Reason string
	Detail map[string]any
}

// Topic implements Message.
func (m KillSwitchMessage) Topic() Topic {
	switch m.Source {
	case TopicRiskKillSwitch, TopicComplianceKillSwitch, TopicRuntimeKillSwitch:
		return m.Source
	default:
		return TopicRuntimeKillSwitch
	}
}

// HaltConfirmedMessage is published once when the controller enters Halted.
type HaltConfirmedMessage struct {
	State KillSwitchState
}

// Topic implements Message.
func (m HaltConfirmedMessage) Topic() Topic { return TopicRuntimeHaltConfirmed }

// ComplianceRejectMessage carries a rejecting compliance decision.
type ComplianceRejectMessage struct {
	Decision ComplianceDecision
}

// Topic implements Message.
func (m ComplianceRejectMessage) Topic() Topic { return TopicComplianceReject }

// CycleMessage marks the start or completion of a runtime cycle.
type CycleMessage struct {
	Cycle    uint64
	Complete bool
	Stage    string
}

// Topic implements Message.
func (m CycleMessage) Topic() Topic {
	if m.Complete {
		return TopicRuntimeCycleComplete
	}
	return TopicRuntimeCycleStart
}

// NAVMessage publishes post-settlement NAV and exposure figures used as the
// next cycle's risk baseline.
type NAVMessage struct {
	Cycle     uint64
	NAV       float64
	Cash      float64
	Exposures map[string]float64
}

// Topic implements Message.
func (m NAVMessage) Topic() Topic { return TopicRuntimeNAV }

// FillMessage carries a terminal execution report.
type FillMessage struct {
	Report ExecutionReport
}

// Topic implements Message.
func (m FillMessage) Topic() Topic { return TopicExecutionFill }

// ExecutionFailureMessage reports a failed slice submission.
type ExecutionFailureMessage struct {
	ProposalID string
	Symbol     string
	SliceIndex int
	Attempts   int
	Error      string
}

// Topic implements Message.
func (m ExecutionFailureMessage) Topic() Topic { return TopicExecutionFailure }
