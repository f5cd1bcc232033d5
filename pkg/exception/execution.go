package exception

import "github.com/yanun0323/errors"

var (
	ErrExecutionFailure   = errors.New("execution: slice submission failed")
	ErrExecutionCancelled = errors.New("execution: cancelled by halt")
	ErrBrokerUnavailable  = errors.New("execution: broker unavailable")
)
