package risk

import (
	"strings"
	"testing"

	"main/internal/bus"
	"main/internal/ledger"
	"main/internal/schema"
)

type fakePortfolio struct {
	nav       float64
	exposures map[string]float64
}

func (p fakePortfolio) NAV() float64 { return p.nav }

func (p fakePortfolio) Exposures() map[string]float64 { return p.exposures }

type fixedVaR struct {
	amount float64
	pct    float64
}

func (v fixedVaR) VaR(nav float64, exposures map[string]float64) (float64, float64) {
	return v.amount, v.pct
}

func proposal(symbol string, side schema.Side, qty, price float64) schema.TradeProposal {
	return schema.TradeProposal{
		ID:       "p1",
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		EstPrice: price,
	}
}

func TestEvaluateApprovesWithinLimits(t *testing.T) {
	e := NewEngine(DefaultLimits(), fixedVaR{})
	portfolio := fakePortfolio{nav: 1_000_000}

	decision := e.Evaluate(proposal("ACME", schema.SideBuy, 1000, 50), portfolio)
	if decision.Status != schema.RiskApprove {
		t.Fatalf("expected approve, actual=%s reason=%s", decision.Status, decision.Reason)
	}
	if decision.Quantity != 1000 {
		t.Fatalf("approved quantity must be unchanged: %v", decision.Quantity)
	}
	if decision.Metrics.PositionPct != 0.05 {
		t.Fatalf("position pct: expected=0.05 actual=%v", decision.Metrics.PositionPct)
	}
}

func TestEvaluateScalesToPositionCap(t *testing.T) {
	e := NewEngine(DefaultLimits(), fixedVaR{})
	portfolio := fakePortfolio{nav: 1_000_000}

	// 5000 * 50 = 250k against a 100k cap.
	decision := e.Evaluate(proposal("ACME", schema.SideBuy, 5000, 50), portfolio)
	if decision.Status != schema.RiskScale {
		t.Fatalf("expected scale, actual=%s", decision.Status)
	}
	if decision.Quantity != 2000 {
		t.Fatalf("scaled quantity: expected=2000 actual=%v", decision.Quantity)
	}
	if !strings.Contains(decision.Reason, "position_limit") {
		t.Fatalf("reason must cite the cap: %s", decision.Reason)
	}
}

func TestEvaluateRejectsWhenNoHeadroom(t *testing.T) {
	e := NewEngine(DefaultLimits(), fixedVaR{})
	portfolio := fakePortfolio{
		nav:       1_000_000,
		exposures: map[string]float64{"ACME": 100_000},
	}

	decision := e.Evaluate(proposal("ACME", schema.SideBuy, 100, 50), portfolio)
	if decision.Status != schema.RiskReject {
		t.Fatalf("expected reject, actual=%s", decision.Status)
	}
	if decision.Quantity != 0 {
		t.Fatalf("rejected quantity must be zero: %v", decision.Quantity)
	}
}

func TestEvaluateRejectsLeverageBreach(t *testing.T) {
	e := NewEngine(DefaultLimits(), fixedVaR{})
	portfolio := fakePortfolio{
		nav:       100_000,
		exposures: map[string]float64{"AAA": 115_000},
	}

	decision := e.Evaluate(proposal("BBB", schema.SideBuy, 200, 50), portfolio)
	if decision.Status != schema.RiskReject {
		t.Fatalf("expected reject, actual=%s", decision.Status)
	}
	if !strings.Contains(decision.Reason, "gross_leverage_limit") {
		t.Fatalf("reason must cite leverage: %s", decision.Reason)
	}
}

func TestEvaluateRejectsVaRBreach(t *testing.T) {
	e := NewEngine(DefaultLimits(), fixedVaR{amount: 50_000, pct: 0.05})
	portfolio := fakePortfolio{nav: 1_000_000}

	decision := e.Evaluate(proposal("ACME", schema.SideBuy, 100, 50), portfolio)
	if decision.Status != schema.RiskReject {
		t.Fatalf("expected reject, actual=%s", decision.Status)
	}
	if !strings.Contains(decision.Reason, "var_limit") {
		t.Fatalf("reason must cite var: %s", decision.Reason)
	}
}

func TestEvaluateAnnotatesSoftBreach(t *testing.T) {
	e := NewEngine(DefaultLimits(), fixedVaR{amount: 35_000, pct: 0.035})
	portfolio := fakePortfolio{nav: 1_000_000}

	decision := e.Evaluate(proposal("ACME", schema.SideBuy, 100, 50), portfolio)
	if decision.Status != schema.RiskApprove {
		t.Fatalf("soft breach must still approve: %s", decision.Status)
	}
	if !strings.Contains(decision.Reason, "soft_breach") {
		t.Fatalf("reason must flag soft breach: %s", decision.Reason)
	}
}

func TestHistoryVaRGrowsWithVolatility(t *testing.T) {
	calm := NewHistoryVaR(60, 20, 0.95)
	wild := NewHistoryVaR(60, 20, 0.95)
	for i := 0; i < 10; i++ {
		calm.Observe("ACME", 100+float64(i%2))    // tiny oscillation
		wild.Observe("ACME", 100+float64(i%2)*20) // violent oscillation
	}
	exposures := map[string]float64{"ACME": 500_000}

	_, calmPct := calm.VaR(1_000_000, exposures)
	_, wildPct := wild.VaR(1_000_000, exposures)
	if calmPct <= 0 || wildPct <= 0 {
		t.Fatalf("both estimates must be positive: calm=%v wild=%v", calmPct, wildPct)
	}
	if wildPct <= calmPct {
		t.Fatalf("higher volatility must raise var: calm=%v wild=%v", calmPct, wildPct)
	}
}

func TestHistoryVaRNoHistory(t *testing.T) {
	v := NewHistoryVaR(60, 20, 0.95)
	amount, pct := v.VaR(1_000_000, map[string]float64{"ACME": 100_000})
	if amount != 0 || pct != 0 {
		t.Fatalf("no history must yield zero var: amount=%v pct=%v", amount, pct)
	}
}

func TestStressHarnessDefaults(t *testing.T) {
	h := NewStressHarness(nil)
	exposures := map[string]float64{"ACME": 400_000, "GLOBO": 200_000}

	results := h.Run(exposures, 1_000_000)
	if len(results) != 3 {
		t.Fatalf("expected three scenarios, actual=%d", len(results))
	}
	byName := map[string]StressResult{}
	for _, r := range results {
		byName[r.Scenario.Name] = r
	}
	if got := byName["broad_market_drop_5"].PnL; got != -30_000 {
		t.Fatalf("broad market pnl: expected=-30000 actual=%v", got)
	}
	if got := byName["single_name_gap_10"].PnLPct; got != -0.06 {
		t.Fatalf("gap pnl pct: expected=-0.06 actual=%v", got)
	}

	worst, breached := Worst(results, 0.06)
	if !breached {
		t.Fatalf("expected a breach at 6%% threshold")
	}
	if worst.Scenario.Name != "single_name_gap_10" {
		t.Fatalf("worst scenario: %s", worst.Scenario.Name)
	}
}

func TestMonitorStopLossPublishesOnce(t *testing.T) {
	b := bus.New(16)
	stops := 0
	b.Subscribe("test", schema.Pattern(schema.TopicRiskStopLoss), func(env bus.Envelope) error {
		stops++
		return nil
	})
	m := NewMonitor(DefaultMonitorConfig(), b, nil, nil)

	book := ledger.New(100_000)
	book.ApplyReport(schema.ExecutionReport{
		ReportID: "r1", Symbol: "ACME", Side: schema.SideBuy,
		FilledQty: 100, AvgFillPrice: 100, State: schema.ReportFilled,
	})

	// 10% below avg cost, past the 8% stop.
	m.Observe(map[string]float64{"ACME": 90}, book)
	m.Observe(map[string]float64{"ACME": 90}, book)
	if stops != 1 {
		t.Fatalf("stop loss must fire once while active: actual=%d", stops)
	}

	// Recovers, then breaks again.
	m.Observe(map[string]float64{"ACME": 99}, book)
	m.Observe(map[string]float64{"ACME": 90}, book)
	if stops != 2 {
		t.Fatalf("stop loss must re-arm after recovery: actual=%d", stops)
	}
}

func TestMonitorDailyHardStopTripsKillSwitch(t *testing.T) {
	b := bus.New(16)
	kills := 0
	b.Subscribe("test", schema.Pattern(schema.TopicRiskKillSwitch), func(env bus.Envelope) error {
		kills++
		return nil
	})
	m := NewMonitor(DefaultMonitorConfig(), b, nil, nil)

	book := ledger.New(100_000)
	m.Observe(nil, book)

	book.ApplyReport(schema.ExecutionReport{
		ReportID: "r1", Symbol: "ACME", Side: schema.SideBuy,
		FilledQty: 100, AvgFillPrice: 100, State: schema.ReportFilled,
	})
	book.MarkToMarket(1, map[string]float64{"ACME": 40}) // NAV 100k -> 94k, -6%
	m.Observe(map[string]float64{"ACME": 40}, book)

	if kills != 1 {
		t.Fatalf("hard stop must trip the kill switch: actual=%d", kills)
	}
}

func TestMonitorStressBreachTripsKillSwitch(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.StressInterval = 1
	b := bus.New(16)
	var breach *schema.StressBreachMessage
	kills := 0
	b.Subscribe("test", schema.Pattern(schema.TopicRiskStressBreach), func(env bus.Envelope) error {
		msg := env.Message.(schema.StressBreachMessage)
		breach = &msg
		return nil
	})
	b.Subscribe("test", schema.Pattern(schema.TopicRiskKillSwitch), func(env bus.Envelope) error {
		kills++
		return nil
	})
	m := NewMonitor(cfg, b, nil, nil)

	// Fully invested book: a 10% single-name gap is a 10% NAV hit.
	book := ledger.New(100_000)
	book.ApplyReport(schema.ExecutionReport{
		ReportID: "r1", Symbol: "ACME", Side: schema.SideBuy,
		FilledQty: 1000, AvgFillPrice: 100, State: schema.ReportFilled,
	})
	m.Observe(map[string]float64{"ACME": 100}, book)

	if breach == nil {
		t.Fatalf("expected a stress breach message")
	}
	if breach.Scenario != "single_name_gap_10" {
		t.Fatalf("worst scenario: %s", breach.Scenario)
	}
	if kills != 1 {
		t.Fatalf("stress breach must trip the kill switch: actual=%d", kills)
	}
}
