package marketdata

import (
	"context"
	"math/rand"
	"sync"

	"main/pkg/exception"
)

// NewsItem is one headline with a sentiment score in [-1, 1].
type NewsItem struct {
	Headline  string  `json:"headline"`
	Sentiment float64 `json:"sentiment"`
}

// Quote is the per-symbol market snapshot consumed by the council and risk.
type Quote struct {
	Symbol       string             `json:"symbol"`
	Last         float64            `json:"last"`
	PrevClose    float64            `json:"prevClose"`
	Volume       float64            `json:"volume"`
	Fundamentals map[string]float64 `json:"fundamentals,omitempty"`
	News         []NewsItem         `json:"news,omitempty"`
}

// Return is the simple one-period return against the previous close.
func (q Quote) Return() float64 {
	if q.PrevClose == 0 {
		return 0
	}
	return (q.Last - q.PrevClose) / q.PrevClose
}

// Provider supplies quotes for a symbol universe. Implementations return
// exception.ErrDataUnavailable when no snapshot can be produced at all;
// symbols missing from the result map are skipped for the cycle.
type Provider interface {
	Snapshot(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// StaticProvider serves quotes from an in-memory table. Used in paper mode
// and in tests.
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticProvider creates a provider from the given quotes.
func NewStaticProvider(quotes map[string]Quote) *StaticProvider {
	table := make(map[string]Quote, len(quotes))
	for symbol, quote := range quotes {
		quote.Symbol = symbol
		table[symbol] = quote
	}
	return &StaticProvider{quotes: table}
}

// Set replaces or adds a quote.
func (p *StaticProvider) Set(symbol string, quote Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	quote.Symbol = symbol
	p.quotes[symbol] = quote
}

// Snapshot implements Provider. Unknown symbols are omitted; an empty
// universe or an empty table yields ErrDataUnavailable.
func (p *StaticProvider) Snapshot(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.quotes) == 0 {
		return nil, exception.ErrDataUnavailable
	}
	out := make(map[string]Quote, len(symbols))
	for _, symbol := range symbols {
		if quote, ok := p.quotes[symbol]; ok {
			out[symbol] = quote
		}
	}
	if len(out) == 0 {
		return nil, exception.ErrDataUnavailable
	}
	return out, nil
}

// RandomWalkProvider perturbs a base table each snapshot, giving paper
// sessions a drifting tape without an external feed.
type RandomWalkProvider struct {
	mu   sync.Mutex
	base *StaticProvider
	rng  *rand.Rand
	vol  float64
}

// NewRandomWalkProvider wraps base quotes with per-snapshot noise of the
// given volatility (for example 0.02 for two percent).
func NewRandomWalkProvider(quotes map[string]Quote, volatility float64, seed int64) *RandomWalkProvider {
	if volatility <= 0 {
		volatility = 0.01
	}
	return &RandomWalkProvider{
		base: NewStaticProvider(quotes),
		rng:  rand.New(rand.NewSource(seed)),
		vol:  volatility,
	}
}

// Snapshot implements Provider.
func (p *RandomWalkProvider) Snapshot(ctx context.Context, symbols []string) (map[string]Quote, error) {
	quotes, err := p.base.Snapshot(ctx, symbols)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Quote, len(quotes))
	for symbol, quote := range quotes {
		shock := 1 + p.vol*(2*p.rng.Float64()-1)
		quote.PrevClose = quote.Last
		quote.Last = quote.Last * shock
		out[symbol] = quote
		p.base.Set(symbol, quote)
	}
	return out, nil
}
