package execution

import (
	"context"
	"math"
	"sync"

	"main/internal/schema"
	"main/pkg/exception"
)

// SliceOrder is one liquidity-bounded sub-order sent to the broker.
type SliceOrder struct {
	ProposalID string
	Symbol     string
	Side       schema.Side
	Quantity   float64
	LimitPrice float64
	Index      int
}

// Broker submits slice orders to the market. Submit returns the fill price;
// Cancel is the best-effort abort of anything still open for a proposal.
type Broker interface {
	Submit(ctx context.Context, order SliceOrder) (float64, error)
	Cancel(ctx context.Context, proposalID string) error
}

// PaperBroker fills every slice at the limit price plus a fixed slippage,
// adverse to the trade direction. It tracks cancels so tests and the status
// command can inspect them.
type PaperBroker struct {
	mu          sync.Mutex
	SlippageBps float64
	cancelled   map[string]int
}

// NewPaperBroker creates a paper broker with the given slippage in basis
// points.
func NewPaperBroker(slippageBps float64) *PaperBroker {
	return &PaperBroker{
		SlippageBps: slippageBps,
		cancelled:   make(map[string]int),
	}
}

// Submit implements Broker.
func (b *PaperBroker) Submit(ctx context.Context, order SliceOrder) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if order.Quantity <= 0 || order.LimitPrice <= 0 {
		return 0, exception.ErrExecutionFailure
	}
	slip := order.LimitPrice * b.SlippageBps / 10_000
	if order.Side == schema.SideSell {
		slip = -slip
	}
	return math.Max(order.LimitPrice+slip, 0.01), nil
}

// Cancel implements Broker.
func (b *PaperBroker) Cancel(ctx context.Context, proposalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled[proposalID]++
	return nil
}

// Cancelled returns how many cancel requests arrived for the proposal.
func (b *PaperBroker) Cancelled(proposalID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled[proposalID]
}
