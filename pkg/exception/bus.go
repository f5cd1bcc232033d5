package exception

import "github.com/yanun0323/errors"

var (
	ErrBusQueueFull = errors.New("bus: deferred queue full")
	ErrBusClosed    = errors.New("bus: closed")
)

var (
	ErrAuditQueueFull = errors.New("audit: queue full")
	ErrAuditClosed    = errors.New("audit: recorder closed")
)
