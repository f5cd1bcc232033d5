package killswitch

import (
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/pkg/exception"
)

const defaultFailureThreshold = 3

// CancelFunc is invoked once on halt to cancel open orders best-effort.
type CancelFunc func(reason string)

// Auditor records halt and resume events.
type Auditor interface {
	Record(agent, eventType, contextRef string, payload map[string]any) error
}

// Controller owns the global trading-halt flag. Any risk, compliance, or
// runtime kill-switch message trips it; the first trigger wins and later
// triggers only add context to the audit trail. Resuming requires an
// explicit human authorization reference.
type Controller struct {
	mu        sync.Mutex
	state     schema.KillSwitchState
	threshold int
	streak    int
	cancel    CancelFunc
	auditor   Auditor
	bus       *bus.Bus
}

// NewController creates an inactive controller. failureThreshold is the
// number of consecutive execution failures that trips a runtime halt;
// zero selects the default of 3.
func NewController(failureThreshold int, cancel CancelFunc, auditor Auditor) *Controller {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	return &Controller{
		threshold: failureThreshold,
		cancel:    cancel,
		auditor:   auditor,
	}
}

// Bind subscribes the controller to the kill-switch and execution topics.
func (c *Controller) Bind(b *bus.Bus) {
	c.mu.Lock()
	c.bus = b
	c.mu.Unlock()

	b.Subscribe("killswitch", schema.Pattern(schema.TopicRiskKillSwitch), c.onKillSwitch)
	b.Subscribe("killswitch", schema.Pattern(schema.TopicComplianceKillSwitch), c.onKillSwitch)
	b.Subscribe("killswitch", schema.Pattern(schema.TopicRuntimeKillSwitch), c.onKillSwitch)
	b.Subscribe("killswitch", schema.Pattern(schema.TopicExecutionFailure), c.onExecutionFailure)
	b.Subscribe("killswitch", schema.Pattern(schema.TopicExecutionFill), c.onFill)
}

func (c *Controller) onKillSwitch(env bus.Envelope) error {
	msg, ok := env.Message.(schema.KillSwitchMessage)
	if !ok {
		return fmt.Errorf("killswitch: unexpected message on %s", env.Topic)
	}
	c.Trip(env.Topic, msg.Reason, msg.Detail)
	return nil
}

func (c *Controller) onExecutionFailure(env bus.Envelope) error {
	msg, ok := env.Message.(schema.ExecutionFailureMessage)
	if !ok {
		return fmt.Errorf("killswitch: unexpected message on %s", env.Topic)
	}
	c.mu.Lock()
	c.streak++
	streak := c.streak
	threshold := c.threshold
	b := c.bus
	c.mu.Unlock()

	// Publish the halt exactly once, at the moment the streak reaches the
	// threshold.
	if streak != threshold || b == nil {
		return nil
	}
	_, err := b.Publish(schema.KillSwitchMessage{
		Source: schema.TopicRuntimeKillSwitch,
		Reason: fmt.Sprintf("execution failures: %d consecutive", streak),
		Detail: map[string]any{
			"proposalId": msg.ProposalID,
			"symbol":     msg.Symbol,
			"lastError":  msg.Error,
		},
	})
	return err
}

func (c *Controller) onFill(env bus.Envelope) error {
	msg, ok := env.Message.(schema.FillMessage)
	if !ok || msg.Report.FilledQty <= 0 {
		return nil
	}
	c.mu.Lock()
	c.streak = 0
	c.mu.Unlock()
	return nil
}

// Trip activates the halt. The first trigger records source and reason;
// subsequent triggers while halted are audited but do not change state.
func (c *Controller) Trip(source schema.Topic, reason string, detail map[string]any) {
	c.mu.Lock()
	if c.state.Active {
		c.mu.Unlock()
		c.audit("halt_duplicate_trigger", string(source), map[string]any{
			"reason": reason,
			"detail": detail,
		})
		return
	}
	c.state = schema.KillSwitchState{
		Active:      true,
		Reason:      reason,
		Source:      source,
		ActivatedAt: time.Now().UTC(),
	}
	state := c.state
	cancel := c.cancel
	b := c.bus
	c.mu.Unlock()

	logs.Errorf("kill switch tripped: source=%s reason=%s", source, reason)
	c.audit("halt_activated", string(source), map[string]any{
		"reason": reason,
		"detail": detail,
	})
	if cancel != nil {
		cancel(reason)
	}
	if b != nil {
		if _, err := b.Publish(schema.HaltConfirmedMessage{State: state}); err != nil {
			logs.Errorf("kill switch publish halt confirmation: %v", err)
		}
	}
}

// Resume clears the halt. authRef identifies the human authorization and
// must be non-empty; resuming an inactive controller is an error.
func (c *Controller) Resume(authRef string) error {
	if authRef == "" {
		return exception.ErrAuthorizationRequired
	}
	c.mu.Lock()
	if !c.state.Active {
		c.mu.Unlock()
		return fmt.Errorf("killswitch: not halted")
	}
	c.state.Active = false
	c.state.ResumeAuth = authRef
	c.state.ResumedAt = time.Now().UTC()
	c.streak = 0
	c.mu.Unlock()

	logs.Infof("kill switch resumed: auth=%s", authRef)
	c.audit("halt_resumed", authRef, nil)
	return nil
}

// Active reports whether trading is halted.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active
}

// Snapshot returns a copy of the current halt state.
func (c *Controller) Snapshot() schema.KillSwitchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) audit(eventType, contextRef string, payload map[string]any) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Record("killswitch", eventType, contextRef, payload); err != nil {
		logs.Errorf("kill switch audit %s: %v", eventType, err)
	}
}
