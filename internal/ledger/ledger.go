package ledger

import (
	"sync"
	"time"

	"main/internal/schema"
)

// Position is one symbol's holding with its average entry cost.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AvgCost     float64 `json:"avgCost"`
	RealizedPnL float64 `json:"realizedPnl"`
	LastPrice   float64 `json:"lastPrice,omitempty"`
}

// MarketValue returns the position value at its last marked price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.LastPrice
}

// UnrealizedPnL returns the open profit at the last marked price.
func (p Position) UnrealizedPnL() float64 {
	return (p.LastPrice - p.AvgCost) * p.Quantity
}

// NAVPoint is one entry in the net asset value history.
type NAVPoint struct {
	Cycle     uint64    `json:"cycle"`
	NAV       float64   `json:"nav"`
	Cash      float64   `json:"cash"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger is the portfolio book of record. Mutations happen from a single
// writer during settlement; reads may come from any goroutine.
type Ledger struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]*Position
	applied   map[string]struct{}
	history   []NAVPoint
	realized  float64
}

// New creates a ledger seeded with starting cash.
func New(startingCash float64) *Ledger {
	return &Ledger{
		cash:      startingCash,
		positions: make(map[string]*Position),
		applied:   make(map[string]struct{}),
	}
}

// ApplyReport settles a terminal execution report into cash and positions.
// Applying the same report id twice is a no-op, so replayed fills cannot
// double-count. Returns true when the report mutated the book.
func (l *Ledger) ApplyReport(report schema.ExecutionReport) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if report.ReportID == "" || report.FilledQty <= 0 {
		return false
	}
	if _, seen := l.applied[report.ReportID]; seen {
		return false
	}
	l.applied[report.ReportID] = struct{}{}

	pos := l.positions[report.Symbol]
	if pos == nil {
		pos = &Position{Symbol: report.Symbol}
		l.positions[report.Symbol] = pos
	}
	pos.LastPrice = report.AvgFillPrice

	qty := report.FilledQty
	price := report.AvgFillPrice
	switch report.Side {
	case schema.SideBuy:
		cost := pos.AvgCost*pos.Quantity + price*qty
		pos.Quantity += qty
		if pos.Quantity > 0 {
			pos.AvgCost = cost / pos.Quantity
		}
		l.cash -= price * qty
	case schema.SideSell:
		if qty > pos.Quantity {
			qty = pos.Quantity
		}
		realized := (price - pos.AvgCost) * qty
		pos.RealizedPnL += realized
		l.realized += realized
		pos.Quantity -= qty
		l.cash += price * qty
		if pos.Quantity <= 0 {
			pos.Quantity = 0
			pos.AvgCost = 0
		}
	}
	return true
}

// MarkToMarket updates last prices, records a NAV point, and returns it.
// Symbols missing from prices keep their previous mark.
func (l *Ledger) MarkToMarket(cycle uint64, prices map[string]float64) NAVPoint {
	l.mu.Lock()
	defer l.mu.Unlock()

	for symbol, pos := range l.positions {
		if price, ok := prices[symbol]; ok && price > 0 {
			pos.LastPrice = price
		}
	}
	point := NAVPoint{
		Cycle:     cycle,
		NAV:       l.navLocked(),
		Cash:      l.cash,
		Timestamp: time.Now().UTC(),
	}
	l.history = append(l.history, point)
	return point
}

func (l *Ledger) navLocked() float64 {
	nav := l.cash
	for _, pos := range l.positions {
		nav += pos.MarketValue()
	}
	return nav
}

// NAV returns the current net asset value at last marked prices.
func (l *Ledger) NAV() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.navLocked()
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// RealizedPnL returns cumulative realized profit across all symbols.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

// Position returns a copy of the symbol's position and whether it exists.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// Exposures returns per-symbol market value at last marked prices.
func (l *Ledger) Exposures() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]float64, len(l.positions))
	for symbol, pos := range l.positions {
		if pos.Quantity != 0 {
			out[symbol] = pos.MarketValue()
		}
	}
	return out
}

// GrossExposure returns the sum of absolute position values.
func (l *Ledger) GrossExposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	gross := 0.0
	for _, pos := range l.positions {
		value := pos.MarketValue()
		if value < 0 {
			value = -value
		}
		gross += value
	}
	return gross
}

// History returns a copy of the NAV history, oldest first.
func (l *Ledger) History() []NAVPoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]NAVPoint, len(l.history))
	copy(out, l.history)
	return out
}

// Applied reports whether a report id has already been settled.
func (l *Ledger) Applied(reportID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[reportID]
	return ok
}
