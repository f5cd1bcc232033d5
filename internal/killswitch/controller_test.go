package killswitch

import (
	"sync"
	"testing"

	"main/internal/bus"
	"main/internal/schema"
	"main/pkg/exception"
)

type memAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *memAuditor) Record(agent, eventType, contextRef string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
	return nil
}

func (a *memAuditor) count(eventType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func TestTripFirstTriggerWins(t *testing.T) {
	auditor := &memAuditor{}
	cancels := 0
	c := NewController(3, func(reason string) { cancels++ }, auditor)
	b := bus.New(16)
	c.Bind(b)

	halts := 0
	b.Subscribe("test", schema.Pattern(schema.TopicRuntimeHaltConfirmed), func(env bus.Envelope) error {
		halts++
		return nil
	})

	b.Publish(schema.KillSwitchMessage{Source: schema.TopicRiskKillSwitch, Reason: "var breach"})
	b.Publish(schema.KillSwitchMessage{Source: schema.TopicComplianceKillSwitch, Reason: "prohibited intent"})

	state := c.Snapshot()
	if !state.Active {
		t.Fatalf("expected halted state")
	}
	if state.Source != schema.TopicRiskKillSwitch {
		t.Fatalf("first trigger must win: source=%s", state.Source)
	}
	if state.Reason != "var breach" {
		t.Fatalf("first reason must win: %s", state.Reason)
	}
	if halts != 1 {
		t.Fatalf("halt confirmation must publish once: actual=%d", halts)
	}
	if cancels != 1 {
		t.Fatalf("cancel must run once: actual=%d", cancels)
	}
	if auditor.count("halt_activated") != 1 {
		t.Fatalf("expected one halt_activated event")
	}
	if auditor.count("halt_duplicate_trigger") != 1 {
		t.Fatalf("expected one halt_duplicate_trigger event")
	}
}

func TestConsecutiveExecutionFailuresTripHalt(t *testing.T) {
	c := NewController(3, nil, &memAuditor{})
	b := bus.New(16)
	c.Bind(b)

	runtimeKills := 0
	b.Subscribe("test", schema.Pattern(schema.TopicRuntimeKillSwitch), func(env bus.Envelope) error {
		runtimeKills++
		return nil
	})

	failure := schema.ExecutionFailureMessage{ProposalID: "p1", Symbol: "ACME", Error: "broker timeout"}
	b.Publish(failure)
	b.Publish(failure)
	if c.Active() {
		t.Fatalf("two failures must not halt")
	}
	b.Publish(failure)
	if !c.Active() {
		t.Fatalf("three consecutive failures must halt")
	}
	if runtimeKills != 1 {
		t.Fatalf("runtime kill switch must publish once: actual=%d", runtimeKills)
	}
	if c.Snapshot().Source != schema.TopicRuntimeKillSwitch {
		t.Fatalf("source must be runtime: %s", c.Snapshot().Source)
	}
}

func TestFillResetsFailureStreak(t *testing.T) {
	c := NewController(3, nil, &memAuditor{})
	b := bus.New(16)
	c.Bind(b)

	failure := schema.ExecutionFailureMessage{ProposalID: "p1", Symbol: "ACME", Error: "broker timeout"}
	b.Publish(failure)
	b.Publish(failure)
	b.Publish(schema.FillMessage{Report: schema.ExecutionReport{ReportID: "r1", Symbol: "ACME", FilledQty: 100, State: schema.ReportFilled}})
	b.Publish(failure)
	b.Publish(failure)

	if c.Active() {
		t.Fatalf("streak must reset on fill")
	}
}

func TestResumeRequiresAuthorization(t *testing.T) {
	c := NewController(3, nil, &memAuditor{})
	b := bus.New(16)
	c.Bind(b)

	b.Publish(schema.KillSwitchMessage{Source: schema.TopicRiskKillSwitch, Reason: "drawdown"})
	if !c.Active() {
		t.Fatalf("expected halt")
	}

	if err := c.Resume(""); err != exception.ErrAuthorizationRequired {
		t.Fatalf("empty auth must be rejected: %v", err)
	}
	if !c.Active() {
		t.Fatalf("halt must survive rejected resume")
	}

	if err := c.Resume("ops-ticket-118"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if c.Active() {
		t.Fatalf("expected resumed state")
	}
	state := c.Snapshot()
	if state.ResumeAuth != "ops-ticket-118" {
		t.Fatalf("resume auth not recorded: %s", state.ResumeAuth)
	}
	if state.ResumedAt.IsZero() {
		t.Fatalf("resume time not recorded")
	}
}

func TestResumeWithoutHaltErrors(t *testing.T) {
	c := NewController(3, nil, &memAuditor{})
	if err := c.Resume("ops-ticket-1"); err == nil {
		t.Fatalf("resume on running controller must error")
	}
}
