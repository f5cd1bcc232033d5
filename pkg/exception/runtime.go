package exception

import "github.com/yanun0323/errors"

var (
	ErrDataUnavailable       = errors.New("data: snapshot unavailable")
	ErrRiskLimitBreach       = errors.New("risk: hard limit breach")
	ErrComplianceVeto        = errors.New("compliance: veto")
	ErrKillSwitchTriggered   = errors.New("runtime: kill switch triggered")
	ErrAuthorizationRequired = errors.New("runtime: resume authorization required")
	ErrRuntimeBusy           = errors.New("runtime: cycle already in progress")
)
