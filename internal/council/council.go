package council

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/marketdata"
	"main/internal/schema"
)

const (
	defaultQuorum      = 2
	defaultProposalTTL = 5 * time.Minute
	defaultStopLossPct = 0.05
)

// Config controls proposal blending.
type Config struct {
	Quorum       int           `json:"quorum"`       // minimum agreeing evaluators per proposal
	MaxProposals int           `json:"maxProposals"` // 0 means unlimited
	ProposalTTL  time.Duration `json:"proposalTtl"`  // expiry window on emitted proposals
	StopLossPct  float64       `json:"stopLossPct"`  // default stop-loss tag on proposals
}

func (c Config) withDefaults() Config {
	if c.Quorum <= 0 {
		c.Quorum = defaultQuorum
	}
	if c.ProposalTTL <= 0 {
		c.ProposalTTL = defaultProposalTTL
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = defaultStopLossPct
	}
	return c
}

// Council blends evaluator signals into a ranked, deduplicated proposal
// list. Evaluator influence is scaled by the adaptive tracker weight; a
// symbol needs at least Quorum evaluators agreeing on direction before a
// proposal is emitted.
type Council struct {
	cfg        Config
	evaluators []Evaluator
	tracker    *Tracker
}

// New creates a council over the given evaluators.
func New(cfg Config, tracker *Tracker, evaluators ...Evaluator) *Council {
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Council{
		cfg:        cfg.withDefaults(),
		evaluators: evaluators,
		tracker:    tracker,
	}
}

// Tracker exposes the council's adaptive weight tracker.
func (c *Council) Tracker() *Tracker { return c.tracker }

// Bind subscribes the council to feedback and fill topics so weights adapt
// between cycles.
func (c *Council) Bind(b *bus.Bus) {
	b.Subscribe("council", schema.Pattern(schema.TopicStrategyFeedback), c.onFeedback)
	b.Subscribe("council", schema.Pattern(schema.TopicExecutionFill), c.onFill)
}

func (c *Council) onFeedback(env bus.Envelope) error {
	msg, ok := env.Message.(schema.FeedbackMessage)
	if !ok {
		return fmt.Errorf("council: unexpected message on %s", env.Topic)
	}
	w := c.tracker.Adjust(msg.Strategy, msg.Reason, msg.Delta)
	logs.Infof("strategy feedback: strategy=%s delta=%.3f weight=%.3f reason=%s", msg.Strategy, msg.Delta, w, msg.Reason)
	return nil
}

func (c *Council) onFill(env bus.Envelope) error {
	msg, ok := env.Message.(schema.FillMessage)
	if !ok {
		return fmt.Errorf("council: unexpected message on %s", env.Topic)
	}
	delta := fillRewardDelta
	if msg.Report.State == schema.ReportFailed || msg.Report.State == schema.ReportCancelled {
		delta = fillPenaltyDelta
	}
	for _, vote := range msg.Report.Votes {
		c.tracker.Adjust(vote.Strategy, "fill:"+msg.Report.State.String(), delta)
	}
	return nil
}

// Propose runs every evaluator over the snapshot and blends the signals.
// Proposals are ranked by conviction descending, then by smaller size.
func (c *Council) Propose(quotes map[string]marketdata.Quote, book Book, now time.Time) []schema.TradeProposal {
	symbols := make([]string, 0, len(quotes))
	for symbol := range quotes {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	proposals := make([]schema.TradeProposal, 0, len(symbols))
	for _, symbol := range symbols {
		if proposal, ok := c.blend(symbol, quotes[symbol], book, now); ok {
			proposals = append(proposals, proposal)
		}
	}
	sort.SliceStable(proposals, func(i, j int) bool {
		if proposals[i].Conviction != proposals[j].Conviction {
			return proposals[i].Conviction > proposals[j].Conviction
		}
		return proposals[i].Quantity < proposals[j].Quantity
	})
	if c.cfg.MaxProposals > 0 && len(proposals) > c.cfg.MaxProposals {
		proposals = proposals[:c.cfg.MaxProposals]
	}
	return proposals
}

func (c *Council) blend(symbol string, quote marketdata.Quote, book Book, now time.Time) (schema.TradeProposal, bool) {
	type weighted struct {
		vote   schema.StrategyVote
		side   schema.Side
		weight float64
	}
	var signals []weighted
	for _, evaluator := range c.evaluators {
		signal, ok := evaluator.Evaluate(quote, book)
		if !ok {
			continue
		}
		signals = append(signals, weighted{
			vote: schema.StrategyVote{
				Strategy:   evaluator.Name(),
				Confidence: signal.Confidence,
				Quantity:   signal.Quantity,
				Rationale:  signal.Rationale,
			},
			side:   signal.Side,
			weight: c.tracker.Weight(evaluator.Name()),
		})
	}
	if len(signals) == 0 {
		return schema.TradeProposal{}, false
	}

	// Pick the direction with more weighted conviction behind it.
	buyScore, sellScore := 0.0, 0.0
	for _, s := range signals {
		score := s.weight * s.vote.Confidence
		if s.side == schema.SideBuy {
			buyScore += score
		} else {
			sellScore += score
		}
	}
	side := schema.SideBuy
	if sellScore > buyScore {
		side = schema.SideSell
	}

	var (
		votes        []schema.StrategyVote
		weightSum    float64
		confWeighted float64
		qtyWeighted  float64
	)
	for _, s := range signals {
		if s.side != side {
			continue
		}
		votes = append(votes, s.vote)
		weightSum += s.weight
		confWeighted += s.weight * s.vote.Confidence
		qtyWeighted += s.weight * s.vote.Quantity
	}
	if len(votes) < c.cfg.Quorum || weightSum == 0 {
		return schema.TradeProposal{}, false
	}

	conviction := confWeighted / weightSum
	if conviction > 1 {
		conviction = 1
	}
	quantity := float64(int(qtyWeighted / weightSum))
	if quantity <= 0 {
		return schema.TradeProposal{}, false
	}

	return schema.TradeProposal{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		EstPrice:    quote.Last,
		Conviction:  conviction,
		Votes:       votes,
		StopLossPct: c.cfg.StopLossPct,
		Rationale:   fmt.Sprintf("%d of %d evaluators agree %s", len(votes), len(c.evaluators), side),
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.ProposalTTL),
	}, true
}
