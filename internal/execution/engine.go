package execution

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/pkg/timex"
)

// Config controls slicing and retry behavior.
type Config struct {
	MaxRetries    int           `json:"maxRetries"`    // submission attempts per slice
	BackoffBase   time.Duration `json:"backoffBase"`   // first retry delay, doubled per attempt
	Participation float64       `json:"participation"` // max slice size as fraction of quote volume
	MaxSliceQty   float64       `json:"maxSliceQty"`   // slice cap when no volume figure is known
}

// UnmarshalJSON accepts backoffBase as a "200ms" style string or a raw
// nanosecond number.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		BackoffBase timex.Duration `json:"backoffBase"`
		*plain
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.BackoffBase = aux.BackoffBase.Std()
	return nil
}

// DefaultConfig returns the baseline execution settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BackoffBase:   200 * time.Millisecond,
		Participation: 0.1,
		MaxSliceQty:   500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.Participation <= 0 || c.Participation > 1 {
		c.Participation = d.Participation
	}
	if c.MaxSliceQty <= 0 {
		c.MaxSliceQty = d.MaxSliceQty
	}
	return c
}

// Order is a compliance-approved trade handed to the engine.
type Order struct {
	Proposal schema.TradeProposal
	Quantity float64 // risk-approved quantity, may differ from the proposal's
	Volume   float64 // recent traded volume for the participation bound
}

// Engine converts approved trades into sliced broker submissions. Slices go
// out sequentially with bounded retries; a halt request cancels whatever is
// still open and reports the residual as cancelled.
type Engine struct {
	cfg    Config
	broker Broker
	bus    *bus.Bus

	mu     sync.Mutex
	halted bool
	open   string // proposal id currently being worked
}

// NewEngine creates an engine submitting through the broker and reporting
// on the bus.
func NewEngine(cfg Config, broker Broker, b *bus.Bus) *Engine {
	return &Engine{cfg: cfg.withDefaults(), broker: broker, bus: b}
}

// CancelOpen requests a best-effort cancel of open slices and stops the
// engine from submitting anything new until ResetHalt.
func (e *Engine) CancelOpen(reason string) {
	e.mu.Lock()
	e.halted = true
	open := e.open
	e.mu.Unlock()

	logs.Infof("execution cancel requested: reason=%s open=%s", reason, open)
	if open == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.broker.Cancel(ctx, open); err != nil {
		logs.Errorf("execution cancel %s: %v", open, err)
	}
}

// ResetHalt re-arms the engine after an authorized resume.
func (e *Engine) ResetHalt() {
	e.mu.Lock()
	e.halted = false
	e.mu.Unlock()
}

func (e *Engine) isHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Submit works the order slice by slice and returns the aggregated report.
// The report is also published on execution.fill once terminal.
func (e *Engine) Submit(ctx context.Context, order Order) schema.ExecutionReport {
	report := schema.ExecutionReport{
		ReportID:     uuid.NewString(),
		ProposalID:   order.Proposal.ID,
		Symbol:       order.Proposal.Symbol,
		Side:         order.Proposal.Side,
		RequestedQty: order.Quantity,
		Votes:        order.Proposal.Votes,
	}

	e.mu.Lock()
	e.open = order.Proposal.ID
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.open = ""
		e.mu.Unlock()
	}()

	sliceCap := e.sliceCap(order.Volume)
	remaining := order.Quantity
	index := 0
	cost := 0.0
	for remaining > 0 {
		if e.isHalted() || ctx.Err() != nil {
			report.Slices = append(report.Slices, schema.SliceResult{
				Index:    index,
				Quantity: remaining,
				State:    schema.SliceCancelled,
			})
			remaining = 0
			break
		}
		qty := math.Min(remaining, sliceCap)
		slice := e.submitSlice(ctx, SliceOrder{
			ProposalID: order.Proposal.ID,
			Symbol:     order.Proposal.Symbol,
			Side:       order.Proposal.Side,
			Quantity:   qty,
			LimitPrice: order.Proposal.EstPrice,
			Index:      index,
		})
		report.Slices = append(report.Slices, slice)
		switch slice.State {
		case schema.SliceFilled:
			report.FilledQty += slice.Quantity
			cost += slice.Quantity * slice.FillPrice
		case schema.SliceFailed:
			report.Failures++
			e.bus.Publish(schema.ExecutionFailureMessage{
				ProposalID: order.Proposal.ID,
				Symbol:     order.Proposal.Symbol,
				SliceIndex: slice.Index,
				Attempts:   slice.Attempts,
				Error:      slice.Error,
			})
		}
		remaining -= qty
		index++
	}

	if report.FilledQty > 0 {
		report.AvgFillPrice = cost / report.FilledQty
		if order.Proposal.EstPrice > 0 {
			report.SlippagePct = (report.AvgFillPrice - order.Proposal.EstPrice) / order.Proposal.EstPrice * 100
			if order.Proposal.Side == schema.SideSell {
				report.SlippagePct = -report.SlippagePct
			}
		}
	}
	report.ResidualQty = report.RequestedQty - report.FilledQty
	report.State = e.terminalState(report)
	report.CompletedAt = time.Now().UTC()

	e.bus.Publish(schema.FillMessage{Report: report})
	return report
}

func (e *Engine) submitSlice(ctx context.Context, order SliceOrder) schema.SliceResult {
	result := schema.SliceResult{Index: order.Index, Quantity: order.Quantity}
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		result.Attempts = attempt
		if e.isHalted() || ctx.Err() != nil {
			result.State = schema.SliceCancelled
			return result
		}
		price, err := e.broker.Submit(ctx, order)
		if err == nil {
			result.State = schema.SliceFilled
			result.FillPrice = price
			result.Error = ""
			return result
		}
		result.Error = err.Error()
		if attempt < e.cfg.MaxRetries {
			backoff := e.cfg.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				result.State = schema.SliceCancelled
				return result
			case <-time.After(backoff):
			}
		}
	}
	result.State = schema.SliceFailed
	logs.Errorf("slice failed: proposal=%s symbol=%s index=%d attempts=%d err=%s",
		order.ProposalID, order.Symbol, order.Index, result.Attempts, result.Error)
	return result
}

func (e *Engine) sliceCap(volume float64) float64 {
	if volume > 0 {
		if bound := math.Floor(volume * e.cfg.Participation); bound >= 1 {
			return bound
		}
		return 1
	}
	return e.cfg.MaxSliceQty
}

func (e *Engine) terminalState(report schema.ExecutionReport) schema.ReportState {
	cancelled := false
	for _, slice := range report.Slices {
		if slice.State == schema.SliceCancelled {
			cancelled = true
			break
		}
	}
	switch {
	case report.FilledQty >= report.RequestedQty:
		return schema.ReportFilled
	case report.FilledQty > 0:
		if cancelled {
			return schema.ReportCancelled
		}
		return schema.ReportPartFilled
	case cancelled:
		return schema.ReportCancelled
	default:
		return schema.ReportFailed
	}
}
