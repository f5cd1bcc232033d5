package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"main/internal/bus"
	"main/internal/killswitch"
	"main/internal/schema"
)

type scriptBroker struct {
	submits   int
	failUntil int // fail the first N submissions
	cancels   int
	err       error
}

func (b *scriptBroker) Submit(ctx context.Context, order SliceOrder) (float64, error) {
	b.submits++
	if b.submits <= b.failUntil {
		err := b.err
		if err == nil {
			err = errors.New("broker timeout")
		}
		return 0, err
	}
	return order.LimitPrice, nil
}

func (b *scriptBroker) Cancel(ctx context.Context, proposalID string) error {
	b.cancels++
	return nil
}

func testConfig() Config {
	return Config{
		MaxRetries:    3,
		BackoffBase:   time.Millisecond,
		Participation: 0.1,
		MaxSliceQty:   500,
	}
}

func testOrder(qty float64) Order {
	return Order{
		Proposal: schema.TradeProposal{
			ID:       "p1",
			Symbol:   "ACME",
			Side:     schema.SideBuy,
			Quantity: qty,
			EstPrice: 50,
		},
		Quantity: qty,
	}
}

func TestSubmitFillsInSlices(t *testing.T) {
	broker := &scriptBroker{}
	b := bus.New(16)
	e := NewEngine(testConfig(), broker, b)

	report := e.Submit(context.Background(), testOrder(1200))
	if report.State != schema.ReportFilled {
		t.Fatalf("expected filled, actual=%s", report.State)
	}
	if len(report.Slices) != 3 { // 500 + 500 + 200
		t.Fatalf("slices: expected=3 actual=%d", len(report.Slices))
	}
	if report.FilledQty != 1200 || report.ResidualQty != 0 {
		t.Fatalf("fill: qty=%v residual=%v", report.FilledQty, report.ResidualQty)
	}
	if report.AvgFillPrice != 50 {
		t.Fatalf("avg price: %v", report.AvgFillPrice)
	}
}

func TestSubmitHonorsParticipationBound(t *testing.T) {
	broker := &scriptBroker{}
	e := NewEngine(testConfig(), broker, bus.New(16))

	order := testOrder(1000)
	order.Volume = 2000 // 10% participation = 200 per slice

	report := e.Submit(context.Background(), order)
	if len(report.Slices) != 5 {
		t.Fatalf("slices: expected=5 actual=%d", len(report.Slices))
	}
	for _, slice := range report.Slices {
		if slice.Quantity > 200 {
			t.Fatalf("slice exceeds participation bound: %v", slice.Quantity)
		}
	}
}

func TestSubmitRetriesAreBounded(t *testing.T) {
	broker := &scriptBroker{failUntil: 1 << 30} // always fails
	b := bus.New(16)
	failures := 0
	b.Subscribe("test", schema.Pattern(schema.TopicExecutionFailure), func(env bus.Envelope) error {
		failures++
		return nil
	})
	e := NewEngine(testConfig(), broker, b)

	report := e.Submit(context.Background(), testOrder(400)) // single slice
	if report.State != schema.ReportFailed {
		t.Fatalf("expected failed, actual=%s", report.State)
	}
	if broker.submits != 3 {
		t.Fatalf("attempts: expected=3 actual=%d", broker.submits)
	}
	if report.Slices[0].Attempts != 3 {
		t.Fatalf("recorded attempts: %d", report.Slices[0].Attempts)
	}
	if failures != 1 {
		t.Fatalf("one failure event per failed slice: actual=%d", failures)
	}
	if report.Failures != 1 {
		t.Fatalf("report failure count: %d", report.Failures)
	}
}

func TestSubmitRecoversWithinRetryLimit(t *testing.T) {
	broker := &scriptBroker{failUntil: 2} // third attempt succeeds
	e := NewEngine(testConfig(), broker, bus.New(16))

	report := e.Submit(context.Background(), testOrder(400))
	if report.State != schema.ReportFilled {
		t.Fatalf("expected filled, actual=%s", report.State)
	}
	if report.Slices[0].Attempts != 3 {
		t.Fatalf("attempts: expected=3 actual=%d", report.Slices[0].Attempts)
	}
}

func TestThreeFailedSlicesPublishHaltOnce(t *testing.T) {
	broker := &scriptBroker{failUntil: 1 << 30}
	b := bus.New(16)
	runtimeKills := 0
	b.Subscribe("test", schema.Pattern(schema.TopicRuntimeKillSwitch), func(env bus.Envelope) error {
		runtimeKills++
		return nil
	})
	controller := killswitch.NewController(3, nil, nil)
	controller.Bind(b)
	e := NewEngine(testConfig(), broker, b)

	// 2000 shares in 500-share slices: four slices fail in sequence.
	report := e.Submit(context.Background(), testOrder(2000))
	if report.State != schema.ReportFailed {
		t.Fatalf("expected failed, actual=%s", report.State)
	}
	if runtimeKills != 1 {
		t.Fatalf("runtime.kill_switch must publish exactly once: actual=%d", runtimeKills)
	}
	if !controller.Active() {
		t.Fatalf("controller must be halted")
	}
}

func TestCancelOpenStopsRemainingSlices(t *testing.T) {
	broker := &scriptBroker{}
	b := bus.New(16)
	e := NewEngine(testConfig(), broker, b)

	e.CancelOpen("halt test")
	report := e.Submit(context.Background(), testOrder(1000))
	if report.State != schema.ReportCancelled {
		t.Fatalf("expected cancelled, actual=%s", report.State)
	}
	if report.FilledQty != 0 {
		t.Fatalf("halted engine must not fill: %v", report.FilledQty)
	}
	if report.ResidualQty != 1000 {
		t.Fatalf("residual: expected=1000 actual=%v", report.ResidualQty)
	}

	e.ResetHalt()
	report = e.Submit(context.Background(), testOrder(400))
	if report.State != schema.ReportFilled {
		t.Fatalf("reset engine must fill: %s", report.State)
	}
}

func TestPaperBrokerSlippage(t *testing.T) {
	broker := NewPaperBroker(10) // 10 bps
	price, err := broker.Submit(context.Background(), SliceOrder{
		ProposalID: "p1", Symbol: "ACME", Side: schema.SideBuy, Quantity: 100, LimitPrice: 100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if price != 100.1 {
		t.Fatalf("buy slippage must be adverse: %v", price)
	}

	price, err = broker.Submit(context.Background(), SliceOrder{
		ProposalID: "p1", Symbol: "ACME", Side: schema.SideSell, Quantity: 100, LimitPrice: 100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if price != 99.9 {
		t.Fatalf("sell slippage must be adverse: %v", price)
	}

	if err := broker.Cancel(context.Background(), "p1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if broker.Cancelled("p1") != 1 {
		t.Fatalf("cancel must be recorded")
	}
}
