package risk

import (
	"math"
	"sync"
)

// zscore maps a confidence level to its one-tailed normal quantile.
func zscore(confidence float64) float64 {
	switch math.Round(confidence*1000) / 1000 {
	case 0.90:
		return 1.28
	case 0.95:
		return 1.65
	case 0.975:
		return 1.96
	case 0.99:
		return 2.33
	default:
		return 1.65
	}
}

// HistoryVaR estimates parametric portfolio VaR from rolling price history.
// It treats symbols as uncorrelated and sums weighted return variances.
type HistoryVaR struct {
	mu         sync.Mutex
	history    map[string][]float64
	window     int
	lookback   int
	confidence float64
}

// NewHistoryVaR creates an estimator keeping window prices per symbol and
// using up to lookback returns at the given confidence level.
func NewHistoryVaR(window, lookback int, confidence float64) *HistoryVaR {
	if window <= 0 {
		window = 60
	}
	if lookback <= 0 {
		lookback = 20
	}
	if confidence <= 0 {
		confidence = 0.95
	}
	return &HistoryVaR{
		history:    make(map[string][]float64),
		window:     window,
		lookback:   lookback,
		confidence: confidence,
	}
}

// Observe appends a price observation for the symbol.
func (h *HistoryVaR) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	prices := append(h.history[symbol], price)
	if len(prices) > h.window {
		prices = prices[len(prices)-h.window:]
	}
	h.history[symbol] = prices
}

// VaR implements MetricsSource.
func (h *HistoryVaR) VaR(nav float64, exposures map[string]float64) (float64, float64) {
	safeNAV := math.Max(nav, 1)
	h.mu.Lock()
	defer h.mu.Unlock()

	variance := 0.0
	for symbol, value := range exposures {
		weight := value / safeNAV
		returns := h.returnsLocked(symbol)
		if len(returns) < 2 {
			continue
		}
		variance += weight * weight * pvariance(returns)
	}
	if variance <= 0 {
		return 0, 0
	}
	amount := zscore(h.confidence) * math.Sqrt(variance) * safeNAV
	return amount, amount / safeNAV
}

func (h *HistoryVaR) returnsLocked(symbol string) []float64 {
	prices := h.history[symbol]
	if len(prices) < 2 {
		return nil
	}
	tail := prices
	if len(tail) > h.lookback+1 {
		tail = tail[len(tail)-h.lookback-1:]
	}
	returns := make([]float64, 0, len(tail)-1)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] != 0 {
			returns = append(returns, (tail[i]-tail[i-1])/tail[i-1])
		}
	}
	return returns
}

func pvariance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return variance / float64(len(values))
}
