package council

import (
	"fmt"
	"math"

	"main/internal/marketdata"
	"main/internal/schema"
)

// Signal is one evaluator's opinion on a symbol.
type Signal struct {
	Side       schema.Side
	Confidence float64
	Quantity   float64
	Rationale  string
}

// Book exposes the portfolio figures evaluators size against.
type Book interface {
	Cash() float64
	Position(symbol string) (qty float64, ok bool)
}

// Evaluator produces a signal from a quote, or ok=false to abstain.
type Evaluator interface {
	Name() string
	Evaluate(quote marketdata.Quote, book Book) (Signal, bool)
}

// MomentumEvaluator trades recent price moves against the previous close.
type MomentumEvaluator struct {
	ThresholdPct   float64 // minimum absolute move, in percent
	TargetAllocPct float64 // fraction of cash per signal
}

// NewMomentumEvaluator returns the evaluator with its stock thresholds.
func NewMomentumEvaluator() *MomentumEvaluator {
	return &MomentumEvaluator{ThresholdPct: 0.25, TargetAllocPct: 0.04}
}

// Name implements Evaluator.
func (e *MomentumEvaluator) Name() string { return "momentum" }

// Evaluate implements Evaluator.
func (e *MomentumEvaluator) Evaluate(quote marketdata.Quote, book Book) (Signal, bool) {
	if quote.PrevClose <= 0 || quote.Last <= 0 {
		return Signal{}, false
	}
	changePct := quote.Return() * 100
	var side schema.Side
	switch {
	case changePct >= e.ThresholdPct:
		side = schema.SideBuy
	case changePct <= -e.ThresholdPct:
		side = schema.SideSell
	default:
		return Signal{}, false
	}
	qty := sizeFromCash(book, quote, e.TargetAllocPct, side)
	if qty <= 0 {
		return Signal{}, false
	}
	return Signal{
		Side:       side,
		Confidence: math.Min(1, math.Abs(changePct)/10),
		Quantity:   qty,
		Rationale:  fmt.Sprintf("momentum_change_pct=%.2f", changePct),
	}, true
}

// ValueEvaluator buys low-multiple names with healthy margins and sells
// stretched multiples. It abstains when fundamentals are missing.
type ValueEvaluator struct {
	MaxPE          float64
	MinMarginPct   float64
	TargetAllocPct float64
}

// NewValueEvaluator returns the evaluator with its stock thresholds.
func NewValueEvaluator() *ValueEvaluator {
	return &ValueEvaluator{MaxPE: 18, MinMarginPct: 5, TargetAllocPct: 0.03}
}

// Name implements Evaluator.
func (e *ValueEvaluator) Name() string { return "value" }

// Evaluate implements Evaluator.
func (e *ValueEvaluator) Evaluate(quote marketdata.Quote, book Book) (Signal, bool) {
	pe, okPE := quote.Fundamentals["peRatio"]
	margin, okMargin := quote.Fundamentals["profitMargin"]
	if !okPE || !okMargin || quote.Last <= 0 {
		return Signal{}, false
	}
	var side schema.Side
	confidence := 0.0
	switch {
	case pe > 0 && pe <= e.MaxPE && margin*100 >= e.MinMarginPct:
		side = schema.SideBuy
		confidence = 0.6
	case pe > e.MaxPE*1.5:
		side = schema.SideSell
		confidence = 0.5
	default:
		return Signal{}, false
	}
	qty := sizeFromCash(book, quote, e.TargetAllocPct, side)
	if qty <= 0 {
		return Signal{}, false
	}
	return Signal{
		Side:       side,
		Confidence: confidence,
		Quantity:   qty,
		Rationale:  fmt.Sprintf("pe=%.2f,margin=%.2f", pe, margin*100),
	}, true
}

// MacroEvaluator leans risk on or off from average news sentiment.
type MacroEvaluator struct {
	SentimentThreshold float64
	TargetAllocPct     float64
}

// NewMacroEvaluator returns the evaluator with its stock thresholds.
func NewMacroEvaluator() *MacroEvaluator {
	return &MacroEvaluator{SentimentThreshold: 0.15, TargetAllocPct: 0.02}
}

// Name implements Evaluator.
func (e *MacroEvaluator) Name() string { return "macro" }

// Evaluate implements Evaluator.
func (e *MacroEvaluator) Evaluate(quote marketdata.Quote, book Book) (Signal, bool) {
	if len(quote.News) == 0 || quote.Last <= 0 {
		return Signal{}, false
	}
	sum := 0.0
	for _, item := range quote.News {
		sum += item.Sentiment
	}
	avg := sum / float64(len(quote.News))
	var side schema.Side
	switch {
	case avg >= e.SentimentThreshold:
		side = schema.SideBuy
	case avg <= -e.SentimentThreshold:
		side = schema.SideSell
	default:
		return Signal{}, false
	}
	qty := sizeFromCash(book, quote, e.TargetAllocPct, side)
	if qty <= 0 {
		return Signal{}, false
	}
	return Signal{
		Side:       side,
		Confidence: math.Min(1, math.Abs(avg)),
		Quantity:   qty,
		Rationale:  fmt.Sprintf("avg_sentiment=%.2f", avg),
	}, true
}

// sizeFromCash converts a cash allocation target into whole shares. Sell
// signals are capped at the currently held quantity and abstain when flat.
func sizeFromCash(book Book, quote marketdata.Quote, allocPct float64, side schema.Side) float64 {
	allocation := math.Max(1, book.Cash()*allocPct)
	qty := math.Floor(allocation / quote.Last)
	if side == schema.SideSell {
		held, ok := book.Position(quote.Symbol)
		if !ok || held <= 0 {
			return 0
		}
		qty = math.Min(qty, math.Floor(held))
	}
	return qty
}
