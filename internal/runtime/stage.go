package runtime

// CycleStage is the runtime's position inside a tick.
type CycleStage uint8

const (
	StageIdle CycleStage = iota
	StageIngesting
	StageProposing
	StageRiskReview
	StageComplianceReview
	StageExecuting
	StageSettling
	StageHalted
)

// String returns the lowercase stage name.
func (s CycleStage) String() string {
	switch s {
	case StageIngesting:
		return "ingesting"
	case StageProposing:
		return "proposing"
	case StageRiskReview:
		return "risk_review"
	case StageComplianceReview:
		return "compliance_review"
	case StageExecuting:
		return "executing"
	case StageSettling:
		return "settling"
	case StageHalted:
		return "halted"
	default:
		return "idle"
	}
}
