package schema

import "strings"

// Topic is a dotted bus topic name, e.g. "risk.kill_switch".
type Topic string

const (
	TopicStrategyProposalPrefix Topic = "strategy.proposal."
	TopicStrategyFeedback       Topic = "strategy.feedback"

	TopicRiskAlert        Topic = "risk.alert"
	TopicRiskReject       Topic = "risk.reject"
	TopicRiskStopLoss     Topic = "risk.stop_loss"
	TopicRiskStressBreach Topic = "risk.stress_breach"
	TopicRiskKillSwitch   Topic = "risk.kill_switch"

	TopicComplianceReject     Topic = "compliance.reject"
	TopicComplianceKillSwitch Topic = "compliance.kill_switch"

	TopicRuntimeKillSwitch    Topic = "runtime.kill_switch"
	TopicRuntimeHaltConfirmed Topic = "runtime.halt_confirmed"
	TopicRuntimeCycleStart    Topic = "runtime.cycle_start"
	TopicRuntimeCycleComplete Topic = "runtime.cycle_complete"
	TopicRuntimeNAV           Topic = "runtime.nav"

	TopicExecutionFill    Topic = "execution.fill"
	TopicExecutionFailure Topic = "execution.failure"
)

// StrategyProposalTopic returns the proposal topic for a strategy id.
func StrategyProposalTopic(strategyID string) Topic {
	return TopicStrategyProposalPrefix + Topic(strategyID)
}

// Pattern is an exact topic or a prefix wildcard such as "strategy.proposal.*".
type Pattern string

// Match reports whether the pattern covers the topic. A trailing ".*" matches
// any topic sharing the prefix; a bare "*" matches everything.
func (p Pattern) Match(topic Topic) bool {
	if p == "*" {
		return true
	}
	s := string(p)
	if strings.HasSuffix(s, ".*") {
		return strings.HasPrefix(string(topic), s[:len(s)-1])
	}
	return string(topic) == string(p)
}
