package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"main/internal/bus"
	"main/internal/compliance"
	"main/internal/council"
	"main/internal/execution"
	"main/internal/killswitch"
	"main/internal/ledger"
	"main/internal/marketdata"
	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/exception"
)

type fixedEvaluator struct {
	qty       float64
	conf      float64
	rationale string
}

func (e fixedEvaluator) Name() string { return "momentum" }

func (e fixedEvaluator) Evaluate(quote marketdata.Quote, book council.Book) (council.Signal, bool) {
	if e.qty <= 0 {
		return council.Signal{}, false
	}
	return council.Signal{
		Side:       schema.SideBuy,
		Confidence: e.conf,
		Quantity:   e.qty,
		Rationale:  e.rationale,
	}, true
}

type fixture struct {
	runtime    *Runtime
	bus        *bus.Bus
	book       *ledger.Ledger
	controller *killswitch.Controller
	broker     *execution.PaperBroker
	tracker    *council.Tracker
}

func newFixture(t *testing.T, evaluator council.Evaluator, policy compliance.Policy) *fixture {
	t.Helper()
	b := bus.New(64)
	book := ledger.New(1_000_000)
	broker := execution.NewPaperBroker(0)
	exec := execution.NewEngine(execution.Config{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		MaxSliceQty: 10_000,
	}, broker, b)
	controller := killswitch.NewController(3, exec.CancelOpen, nil)
	controller.Bind(b)

	tracker := council.NewTracker("momentum")
	counc := council.New(council.Config{Quorum: 1}, tracker, evaluator)
	counc.Bind(b)

	provider := marketdata.NewStaticProvider(map[string]marketdata.Quote{
		"ACME": {Last: 50, PrevClose: 49, Volume: 1_000_000},
	})

	r := New(Config{Symbols: []string{"ACME"}}, Deps{
		Bus:        b,
		Provider:   provider,
		Council:    counc,
		Risk:       risk.NewEngine(risk.DefaultLimits(), nil),
		Monitor:    risk.NewMonitor(risk.DefaultMonitorConfig(), b, nil, nil),
		Compliance: compliance.NewEngine(policy),
		Execution:  exec,
		Controller: controller,
		Book:       book,
	})
	return &fixture{runtime: r, bus: b, book: book, controller: controller, broker: broker, tracker: tracker}
}

func TestCycleApprovesAndSettlesWithinCap(t *testing.T) {
	// 1000 * $50 = $50k, inside the 10% NAV cap.
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.9, rationale: "trend"}, compliance.DefaultPolicy())

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	pos, ok := f.book.Position("ACME")
	if !ok || pos.Quantity != 1000 {
		t.Fatalf("position: expected 1000 shares, actual=%v ok=%v", pos.Quantity, ok)
	}
	if f.book.NAV() != 1_000_000 {
		t.Fatalf("nav must be unchanged net of fees: %v", f.book.NAV())
	}
	if f.runtime.Stage() != StageIdle {
		t.Fatalf("stage must return to idle: %s", f.runtime.Stage())
	}
}

func TestCycleScalesOversizedProposal(t *testing.T) {
	// 5000 * $50 = $250k against the $100k cap: scaled to 2000 shares.
	f := newFixture(t, fixedEvaluator{qty: 5000, conf: 0.9, rationale: "trend"}, compliance.DefaultPolicy())

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	pos, ok := f.book.Position("ACME")
	if !ok || pos.Quantity != 2000 {
		t.Fatalf("scaled position: expected 2000 shares, actual=%v", pos.Quantity)
	}
}

func TestComplianceRejectNeverExecutes(t *testing.T) {
	policy := compliance.DefaultPolicy()
	policy.Restricted = []string{"ACME"}
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.9, rationale: "trend"}, policy)

	rejects := 0
	f.bus.Subscribe("test", schema.Pattern(schema.TopicComplianceReject), func(env bus.Envelope) error {
		rejects++
		return nil
	})

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if rejects != 1 {
		t.Fatalf("expected one compliance reject, actual=%d", rejects)
	}
	if _, ok := f.book.Position("ACME"); ok {
		t.Fatalf("rejected trade must never reach execution")
	}
	if f.controller.Active() {
		t.Fatalf("restricted-symbol reject must not halt")
	}
}

func TestProhibitedTacticHaltsRuntime(t *testing.T) {
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.9, rationale: "spoofing the open"}, compliance.DefaultPolicy())

	err := f.runtime.RunCycle(context.Background())
	if !errors.Is(err, exception.ErrKillSwitchTriggered) {
		t.Fatalf("expected kill switch error, actual=%v", err)
	}
	if !f.controller.Active() {
		t.Fatalf("prohibited tactic must halt the runtime")
	}
	if f.controller.Snapshot().Source != schema.TopicComplianceKillSwitch {
		t.Fatalf("halt source: %s", f.controller.Snapshot().Source)
	}
	if _, ok := f.book.Position("ACME"); ok {
		t.Fatalf("halted cycle must not execute")
	}
	if f.runtime.Stage() != StageHalted {
		t.Fatalf("stage: expected halted, actual=%s", f.runtime.Stage())
	}
}

func TestHaltingCycleDeliversDeferredAlerts(t *testing.T) {
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.9, rationale: "spoofing the open"}, compliance.DefaultPolicy())

	kills := 0
	halts := 0
	f.bus.SubscribeDeferred("test", schema.Pattern(schema.TopicComplianceKillSwitch), func(env bus.Envelope) error {
		kills++
		return nil
	})
	f.bus.SubscribeDeferred("test", schema.Pattern(schema.TopicRuntimeHaltConfirmed), func(env bus.Envelope) error {
		halts++
		return nil
	})

	err := f.runtime.RunCycle(context.Background())
	if !errors.Is(err, exception.ErrKillSwitchTriggered) {
		t.Fatalf("expected kill switch error, actual=%v", err)
	}
	if kills != 1 {
		t.Fatalf("deferred kill-switch alert must deliver on the halting cycle: actual=%d", kills)
	}
	if halts != 1 {
		t.Fatalf("deferred halt confirmation must deliver on the halting cycle: actual=%d", halts)
	}

	// A duplicate trigger queued while halted drains on the next cycle.
	f.bus.Publish(schema.KillSwitchMessage{Source: schema.TopicComplianceKillSwitch, Reason: "duplicate"})
	if err := f.runtime.RunCycle(context.Background()); !errors.Is(err, exception.ErrKillSwitchTriggered) {
		t.Fatalf("halted runtime must refuse cycles: %v", err)
	}
	if kills != 2 {
		t.Fatalf("halted cycle must still drain deferred alerts: actual=%d", kills)
	}
}

func TestHaltedRuntimeBlocksUntilResume(t *testing.T) {
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.9, rationale: "trend"}, compliance.DefaultPolicy())

	f.bus.Publish(schema.KillSwitchMessage{Source: schema.TopicRiskKillSwitch, Reason: "var breach"})

	err := f.runtime.RunCycle(context.Background())
	if !errors.Is(err, exception.ErrKillSwitchTriggered) {
		t.Fatalf("halted runtime must refuse cycles: %v", err)
	}
	if _, ok := f.book.Position("ACME"); ok {
		t.Fatalf("no execution while halted")
	}

	if err := f.runtime.Resume(""); !errors.Is(err, exception.ErrAuthorizationRequired) {
		t.Fatalf("resume without sign-off must fail: %v", err)
	}
	if err := f.runtime.Resume("ops-ticket-42"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle after resume: %v", err)
	}
	if pos, ok := f.book.Position("ACME"); !ok || pos.Quantity != 1000 {
		t.Fatalf("resumed runtime must trade again")
	}

	health := f.runtime.Health()
	if health.KillSwitch.ResumeAuth != "ops-ticket-42" {
		t.Fatalf("health must surface the resume record: %+v", health.KillSwitch)
	}
}

func TestConditionalDecisionHeldNotExecuted(t *testing.T) {
	// Conviction 0.05 sits under the 0.15 review threshold.
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.05, rationale: "weak signal"}, compliance.DefaultPolicy())

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if _, ok := f.book.Position("ACME"); ok {
		t.Fatalf("held proposal must not execute")
	}
	if f.controller.Active() {
		t.Fatalf("review hold must not halt")
	}
}

func TestDataUnavailableSkipsProposing(t *testing.T) {
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.9, rationale: "trend"}, compliance.DefaultPolicy())
	f.runtime.cfg.Symbols = []string{"UNKNOWN"}

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("missing data must not fail the cycle: %v", err)
	}
	if len(f.book.Positions()) != 0 {
		t.Fatalf("no data means no trades")
	}
	if f.runtime.Cycle() != 1 {
		t.Fatalf("cycle must still count: %d", f.runtime.Cycle())
	}
}

func TestNAVPublishedAfterSettlement(t *testing.T) {
	f := newFixture(t, fixedEvaluator{qty: 1000, conf: 0.9, rationale: "trend"}, compliance.DefaultPolicy())

	var nav *schema.NAVMessage
	f.bus.Subscribe("test", schema.Pattern(schema.TopicRuntimeNAV), func(env bus.Envelope) error {
		msg := env.Message.(schema.NAVMessage)
		nav = &msg
		return nil
	})

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if nav == nil {
		t.Fatalf("expected a nav message after settlement")
	}
	if nav.NAV != 1_000_000 {
		t.Fatalf("nav: expected=1000000 actual=%v", nav.NAV)
	}
	if nav.Exposures["ACME"] != 50_000 {
		t.Fatalf("exposure: expected=50000 actual=%v", nav.Exposures["ACME"])
	}
}

func TestRiskRejectPenalizesStrategy(t *testing.T) {
	// Leverage breach: NAV 1M, cash 1M, proposal 30000 * 50 = 1.5M gross.
	f := newFixture(t, fixedEvaluator{qty: 30_000, conf: 0.9, rationale: "trend"}, compliance.DefaultPolicy())

	if err := f.runtime.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if _, ok := f.book.Position("ACME"); ok {
		t.Fatalf("rejected proposal must not execute")
	}
	// Default weight 1.0, risk reject delta -0.2.
	if w := f.tracker.Weight("momentum"); w != 0.8 {
		t.Fatalf("reject penalty: expected=0.8 actual=%v", w)
	}
}
