package risk

import (
	"math"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/ledger"
	"main/internal/schema"
)

// MonitorConfig controls the intraday limit watch.
type MonitorConfig struct {
	VolThresholdPct float64 `json:"volThresholdPct"` // single-observation move that raises an alert, in percent
	NAVHardStopPct  float64 `json:"navHardStopPct"`  // cycle-over-cycle NAV loss that halts trading
	MaxDrawdownPct  float64 `json:"maxDrawdownPct"`  // peak-to-trough warning threshold
	DrawdownWarnPct float64 `json:"drawdownWarnPct"` // early soft warning threshold
	StopLossPct     float64 `json:"stopLossPct"`     // adverse move against avg cost per position
	StressLossPct   float64 `json:"stressLossPct"`   // stress loss fraction of NAV that halts trading
	StressInterval  int     `json:"stressInterval"`  // cycles between stress runs
	NAVWindow       int     `json:"navWindow"`       // NAV history length for drawdown
}

// DefaultMonitorConfig returns the baseline watch thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		VolThresholdPct: 5.0,
		NAVHardStopPct:  0.05,
		MaxDrawdownPct:  0.10,
		DrawdownWarnPct: 0.02,
		StopLossPct:     0.08,
		StressLossPct:   0.06,
		StressInterval:  12,
		NAVWindow:       30,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.VolThresholdPct <= 0 {
		c.VolThresholdPct = d.VolThresholdPct
	}
	if c.NAVHardStopPct <= 0 {
		c.NAVHardStopPct = d.NAVHardStopPct
	}
	if c.MaxDrawdownPct <= 0 {
		c.MaxDrawdownPct = d.MaxDrawdownPct
	}
	if c.DrawdownWarnPct <= 0 {
		c.DrawdownWarnPct = d.DrawdownWarnPct
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = d.StopLossPct
	}
	if c.StressLossPct <= 0 {
		c.StressLossPct = d.StressLossPct
	}
	if c.StressInterval <= 0 {
		c.StressInterval = d.StressInterval
	}
	if c.NAVWindow <= 0 {
		c.NAVWindow = d.NAVWindow
	}
	return c
}

// Monitor watches the book between proposals. It raises alerts for
// volatility and drawdown, publishes stop-loss signals, and trips the risk
// kill switch on a daily hard stop or a stress breach.
type Monitor struct {
	cfg         MonitorConfig
	bus         *bus.Bus
	harness     *StressHarness
	estimator   *HistoryVaR
	lastPrices  map[string]float64
	navHistory  []float64
	sinceStress int
	stops       map[string]struct{}
}

// NewMonitor creates a monitor publishing on the given bus.
func NewMonitor(cfg MonitorConfig, b *bus.Bus, harness *StressHarness, estimator *HistoryVaR) *Monitor {
	if harness == nil {
		harness = NewStressHarness(nil)
	}
	return &Monitor{
		cfg:        cfg.withDefaults(),
		bus:        b,
		harness:    harness,
		estimator:  estimator,
		lastPrices: make(map[string]float64),
		stops:      make(map[string]struct{}),
	}
}

// Observe ingests the cycle's prices and runs every watch. Runs from the
// single control loop, never concurrently.
func (m *Monitor) Observe(prices map[string]float64, book *ledger.Ledger) {
	for symbol, price := range prices {
		if price <= 0 {
			continue
		}
		if m.estimator != nil {
			m.estimator.Observe(symbol, price)
		}
		m.checkVolatility(symbol, price)
		m.lastPrices[symbol] = price
	}
	m.checkStopLoss(book)
	m.checkNAV(book)
	m.maybeStress(book)
}

func (m *Monitor) checkVolatility(symbol string, price float64) {
	prev, ok := m.lastPrices[symbol]
	if !ok || prev == 0 {
		return
	}
	changePct := (price - prev) / prev * 100
	if math.Abs(changePct) < m.cfg.VolThresholdPct {
		return
	}
	logs.Errorf("volatility alert: symbol=%s change_pct=%.2f", symbol, changePct)
	m.bus.Publish(schema.RiskAlertMessage{
		Kind:   "volatility",
		Symbol: symbol,
		Detail: map[string]float64{"changePct": changePct, "price": price},
	})
}

func (m *Monitor) checkStopLoss(book *ledger.Ledger) {
	for _, pos := range book.Positions() {
		if pos.Quantity == 0 || pos.AvgCost <= 0 {
			delete(m.stops, pos.Symbol)
			continue
		}
		price, ok := m.lastPrices[pos.Symbol]
		if !ok {
			continue
		}
		movePct := (price - pos.AvgCost) / pos.AvgCost * 100
		if pos.Quantity < 0 {
			movePct = -movePct
		}
		if movePct <= -(m.cfg.StopLossPct * 100) {
			if _, active := m.stops[pos.Symbol]; active {
				continue
			}
			m.stops[pos.Symbol] = struct{}{}
			logs.Errorf("stop loss hit: symbol=%s price=%.2f avg_cost=%.2f move_pct=%.2f", pos.Symbol, price, pos.AvgCost, movePct)
			m.bus.Publish(schema.StopLossMessage{
				Symbol:      pos.Symbol,
				Price:       price,
				AverageCost: pos.AvgCost,
				Quantity:    pos.Quantity,
				LossPct:     movePct,
			})
		} else {
			delete(m.stops, pos.Symbol)
		}
	}
}

func (m *Monitor) checkNAV(book *ledger.Ledger) {
	nav := book.NAV()
	m.navHistory = append(m.navHistory, nav)
	if len(m.navHistory) > m.cfg.NAVWindow {
		m.navHistory = m.navHistory[len(m.navHistory)-m.cfg.NAVWindow:]
	}
	if len(m.navHistory) < 2 {
		return
	}
	prev := m.navHistory[len(m.navHistory)-2]
	if prev != 0 {
		changePct := (nav - prev) / prev
		if changePct <= -m.cfg.NAVHardStopPct {
			m.bus.Publish(schema.KillSwitchMessage{
				Source: schema.TopicRiskKillSwitch,
				Reason: "daily_loss_hard_stop",
				Detail: map[string]any{"dailyChangePct": changePct, "nav": nav},
			})
			return
		}
	}
	peak := m.navHistory[0]
	for _, v := range m.navHistory {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return
	}
	drawdownPct := (nav - peak) / peak
	switch {
	case math.Abs(drawdownPct) >= m.cfg.MaxDrawdownPct:
		logs.Errorf("drawdown warning: drawdown_pct=%.4f nav=%.2f", drawdownPct, nav)
		m.bus.Publish(schema.RiskAlertMessage{
			Kind:   "drawdown_warning",
			Detail: map[string]float64{"drawdownPct": drawdownPct, "nav": nav},
		})
	case math.Abs(drawdownPct) >= m.cfg.DrawdownWarnPct:
		m.bus.Publish(schema.RiskAlertMessage{
			Kind:   "drawdown_soft",
			Detail: map[string]float64{"drawdownPct": drawdownPct, "nav": nav},
		})
	}
}

func (m *Monitor) maybeStress(book *ledger.Ledger) {
	m.sinceStress++
	if m.sinceStress < m.cfg.StressInterval {
		return
	}
	m.sinceStress = 0
	nav := book.NAV()
	results := m.harness.Run(book.Exposures(), nav)
	worst, breached := Worst(results, m.cfg.StressLossPct)
	if !breached {
		return
	}
	logs.Errorf("stress breach: scenario=%s pnl_pct=%.4f nav=%.2f", worst.Scenario.Name, worst.PnLPct, nav)
	m.bus.Publish(schema.StressBreachMessage{
		Scenario: worst.Scenario.Name,
		PnL:      worst.PnL,
		PnLPct:   worst.PnLPct,
		NAV:      nav,
	})
	m.bus.Publish(schema.KillSwitchMessage{
		Source: schema.TopicRiskKillSwitch,
		Reason: "stress_breach:" + worst.Scenario.Name,
		Detail: map[string]any{"pnlPct": worst.PnLPct, "nav": nav},
	})
}
