package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/compliance"
	"main/internal/council"
	"main/internal/execution"
	"main/internal/killswitch"
	"main/internal/ledger"
	"main/internal/marketdata"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/exception"
)

const (
	feedbackRiskReject       = -0.2
	feedbackRiskScale        = -0.05
	feedbackComplianceReject = -0.2
)

// Auditor records stage and decision events. Recording is best-effort.
type Auditor interface {
	Record(agent, eventType, contextRef string, payload map[string]any) error
}

// Config controls the director loop.
type Config struct {
	Symbols      []string      `json:"symbols"`
	TickInterval time.Duration `json:"tickInterval"`
	WeightsPath  string        `json:"weightsPath"` // optional tracker persistence
}

// Deps are the collaborators the runtime sequences each tick.
type Deps struct {
	Bus        *bus.Bus
	Audit      Auditor
	Provider   marketdata.Provider
	Council    *council.Council
	Risk       *risk.Engine
	Monitor    *risk.Monitor
	Compliance *compliance.Engine
	Execution  *execution.Engine
	Controller *killswitch.Controller
	Book       *ledger.Ledger
	Store      ledger.SnapshotStore
	Metrics    *obs.Metrics
}

// Health is the runtime status snapshot served to operators.
type Health struct {
	Stage      string                 `json:"stage"`
	Cycle      uint64                 `json:"cycle"`
	KillSwitch schema.KillSwitchState `json:"killSwitch"`
	NAV        float64                `json:"nav"`
	Cash       float64                `json:"cash"`
	Positions  []ledger.Position      `json:"positions"`
}

// Runtime drives the per-tick state machine. Stages run to completion in
// order; the ledger is only mutated from Settling; a kill-switch activation
// at any boundary sends the cycle to Halted.
type Runtime struct {
	cfg  Config
	deps Deps

	mu    sync.Mutex
	stage CycleStage
	cycle uint64
	trace uint64

	traces *obs.TraceGenerator
}

// New wires a runtime and installs the bus error sink that converts handler
// failures into audit alerts.
func New(cfg Config, deps Deps) *Runtime {
	r := &Runtime{cfg: cfg, deps: deps, traces: obs.NewTraceGenerator(0)}
	deps.Bus.SetErrorSink(func(topic schema.Topic, subscriber string, err error) {
		r.audit("bus", "alert", string(topic), map[string]any{
			"subscriber": subscriber,
			"error":      err.Error(),
		})
	})
	deps.Bus.Subscribe("metrics", schema.Pattern(schema.TopicExecutionFailure), func(bus.Envelope) error {
		r.deps.Metrics.IncSliceFailure()
		return nil
	})
	return r
}

// Run ticks the loop until the context ends.
func (r *Runtime) Run(ctx context.Context) error {
	interval := r.cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logs.Infof("director loop started: symbols=%d interval=%s", len(r.cfg.Symbols), interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				if errors.Is(err, exception.ErrKillSwitchTriggered) {
					logs.Errorf("cycle blocked: %v", err)
					continue
				}
				logs.Errorf("cycle error: %v", err)
			}
		}
	}
}

// RunCycle executes one full tick. It returns ErrKillSwitchTriggered when
// the controller halts the runtime before or during the cycle.
func (r *Runtime) RunCycle(ctx context.Context) error {
	if r.deps.Controller.Active() {
		r.setStage(StageHalted)
		r.deps.Metrics.IncHaltedCycle()
		r.deps.Bus.Drain()
		return exception.ErrKillSwitchTriggered
	}

	r.mu.Lock()
	r.cycle++
	cycle := r.cycle
	r.mu.Unlock()

	started := time.Now()
	defer func() { r.deps.Metrics.ObserveCycle(time.Since(started)) }()
	r.deps.Metrics.IncCycle()

	trace := r.traces.Next()
	r.mu.Lock()
	r.trace = trace
	r.mu.Unlock()

	r.deps.Bus.Publish(schema.CycleMessage{Cycle: cycle})

	quotes, prices := r.ingest(ctx, cycle)
	if halted := r.checkHalt(cycle, "ingesting"); halted {
		return exception.ErrKillSwitchTriggered
	}

	proposals := r.propose(quotes, cycle)
	if halted := r.checkHalt(cycle, "proposing"); halted {
		return exception.ErrKillSwitchTriggered
	}

	survivors := r.riskReview(proposals, cycle)
	if halted := r.checkHalt(cycle, "risk_review"); halted {
		return exception.ErrKillSwitchTriggered
	}

	approved := r.complianceReview(survivors, cycle)
	if halted := r.checkHalt(cycle, "compliance_review"); halted {
		return exception.ErrKillSwitchTriggered
	}

	reports := r.execute(ctx, approved, quotes, cycle)

	r.settle(reports, prices, cycle)

	r.deps.Bus.Drain()
	r.deps.Bus.Publish(schema.CycleMessage{Cycle: cycle, Complete: true, Stage: r.Stage().String()})
	r.setStage(StageIdle)
	return nil
}

// Resume clears the halt with the given authorization and re-arms the
// execution engine.
func (r *Runtime) Resume(authRef string) error {
	if err := r.deps.Controller.Resume(authRef); err != nil {
		return err
	}
	r.deps.Execution.ResetHalt()
	r.setStage(StageIdle)
	r.audit("runtime", "resume", authRef, nil)
	return nil
}

// Stage returns the current cycle stage.
func (r *Runtime) Stage() CycleStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Cycle returns the number of cycles started.
func (r *Runtime) Cycle() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle
}

// Health reports the operator-facing status snapshot. Safe to call while a
// cycle is settling.
func (r *Runtime) Health() Health {
	return Health{
		Stage:      r.Stage().String(),
		Cycle:      r.Cycle(),
		KillSwitch: r.deps.Controller.Snapshot(),
		NAV:        r.deps.Book.NAV(),
		Cash:       r.deps.Book.Cash(),
		Positions:  r.deps.Book.Positions(),
	}
}

func (r *Runtime) ingest(ctx context.Context, cycle uint64) (map[string]marketdata.Quote, map[string]float64) {
	r.enterStage(StageIngesting, cycle)
	defer r.exitStage(StageIngesting, cycle)

	quotes, err := r.deps.Provider.Snapshot(ctx, r.cfg.Symbols)
	if err != nil {
		// Missing data skips proposing for the tick; the watch still runs
		// on the marks we already hold.
		logs.Errorf("market snapshot: %v", err)
		r.audit("runtime", "data_unavailable", "", map[string]any{"error": err.Error()})
		quotes = nil
	}
	prices := make(map[string]float64, len(quotes))
	for symbol, quote := range quotes {
		prices[symbol] = quote.Last
	}
	r.deps.Monitor.Observe(prices, r.deps.Book)
	return quotes, prices
}

func (r *Runtime) propose(quotes map[string]marketdata.Quote, cycle uint64) []schema.TradeProposal {
	r.enterStage(StageProposing, cycle)
	defer r.exitStage(StageProposing, cycle)

	if len(quotes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	proposals := r.deps.Council.Propose(quotes, bookAdapter{r.deps.Book}, now)
	live := proposals[:0]
	for _, proposal := range proposals {
		if proposal.Expired(now) {
			continue
		}
		live = append(live, proposal)
		r.deps.Metrics.IncProposal()
		r.deps.Bus.Publish(schema.ProposalMessage{Proposal: proposal})
		r.audit("council", "proposal", proposal.ID, map[string]any{
			"symbol":     proposal.Symbol,
			"side":       proposal.Side.String(),
			"quantity":   proposal.Quantity,
			"conviction": proposal.Conviction,
		})
	}
	return live
}

type reviewed struct {
	proposal schema.TradeProposal
	risk     schema.RiskDecision
}

func (r *Runtime) riskReview(proposals []schema.TradeProposal, cycle uint64) []reviewed {
	r.enterStage(StageRiskReview, cycle)
	defer r.exitStage(StageRiskReview, cycle)

	survivors := make([]reviewed, 0, len(proposals))
	for _, proposal := range proposals {
		evalStart := time.Now()
		decision := r.deps.Risk.Evaluate(proposal, r.deps.Book)
		r.deps.Metrics.ObserveRiskEval(time.Since(evalStart))
		r.deps.Metrics.IncRiskStatus(decision.Status)
		r.audit("risk", "risk_decision", proposal.ID, map[string]any{
			"status":   decision.Status.String(),
			"quantity": decision.Quantity,
			"reason":   decision.Reason,
		})
		switch decision.Status {
		case schema.RiskReject:
			r.deps.Bus.Publish(schema.RiskRejectMessage{Decision: decision})
			r.feedback(proposal, feedbackRiskReject, "risk_reject")
			continue
		case schema.RiskScale:
			r.feedback(proposal, feedbackRiskScale, "risk_scale")
		}
		survivors = append(survivors, reviewed{proposal: proposal, risk: decision})
	}
	return survivors
}

func (r *Runtime) complianceReview(survivors []reviewed, cycle uint64) []reviewed {
	r.enterStage(StageComplianceReview, cycle)
	defer r.exitStage(StageComplianceReview, cycle)

	approved := make([]reviewed, 0, len(survivors))
	for _, item := range survivors {
		decision, kill := r.deps.Compliance.Evaluate(item.proposal, item.risk, r.deps.Book)
		r.deps.Metrics.IncComplianceStatus(decision.Status)
		r.audit("compliance", "compliance_decision", item.proposal.ID, map[string]any{
			"status": decision.Status.String(),
			"reason": decision.Reason,
		})
		switch decision.Status {
		case schema.ComplianceReject:
			r.deps.Bus.Publish(schema.ComplianceRejectMessage{Decision: decision})
			r.feedback(item.proposal, feedbackComplianceReject, "compliance_reject")
			if kill {
				r.deps.Bus.Publish(schema.KillSwitchMessage{
					Source: schema.TopicComplianceKillSwitch,
					Reason: decision.Reason,
					Detail: map[string]any{"proposalId": item.proposal.ID, "symbol": item.proposal.Symbol},
				})
			}
		case schema.ComplianceConditional:
			// Held for human review, not executed this cycle.
			r.audit("compliance", "held_for_review", item.proposal.ID, map[string]any{"reason": decision.Reason})
		case schema.ComplianceApprove:
			approved = append(approved, item)
		}
	}
	return approved
}

func (r *Runtime) execute(ctx context.Context, approved []reviewed, quotes map[string]marketdata.Quote, cycle uint64) []schema.ExecutionReport {
	r.enterStage(StageExecuting, cycle)
	defer r.exitStage(StageExecuting, cycle)

	reports := make([]schema.ExecutionReport, 0, len(approved))
	for _, item := range approved {
		if r.deps.Controller.Active() {
			break
		}
		submitStart := time.Now()
		report := r.deps.Execution.Submit(ctx, execution.Order{
			Proposal: item.proposal,
			Quantity: item.risk.Quantity,
			Volume:   quotes[item.proposal.Symbol].Volume,
		})
		r.deps.Metrics.ObserveSubmit(time.Since(submitStart))
		if report.FilledQty > 0 {
			r.deps.Metrics.IncFill()
		}
		r.audit("execution", "execution_report", report.ReportID, map[string]any{
			"proposalId": report.ProposalID,
			"state":      report.State.String(),
			"filledQty":  report.FilledQty,
			"residual":   report.ResidualQty,
		})
		reports = append(reports, report)
	}
	return reports
}

// settle is the only writer of the ledger. It applies terminal reports,
// marks the book, persists the snapshot, and publishes the NAV baseline for
// the next cycle.
func (r *Runtime) settle(reports []schema.ExecutionReport, prices map[string]float64, cycle uint64) {
	r.enterStage(StageSettling, cycle)
	defer r.exitStage(StageSettling, cycle)

	for _, report := range reports {
		if r.deps.Book.ApplyReport(report) {
			r.audit("ledger", "settled", report.ReportID, map[string]any{
				"symbol":    report.Symbol,
				"filledQty": report.FilledQty,
			})
		}
	}
	point := r.deps.Book.MarkToMarket(cycle, prices)

	if r.deps.Store != nil {
		if err := r.deps.Store.Save(r.deps.Book.Snapshot(cycle)); err != nil {
			logs.Errorf("ledger snapshot: %v", err)
		}
	}
	if r.cfg.WeightsPath != "" {
		if err := r.deps.Council.Tracker().Save(r.cfg.WeightsPath); err != nil {
			logs.Errorf("tracker weights: %v", err)
		}
	}

	r.deps.Bus.Publish(schema.NAVMessage{
		Cycle:     cycle,
		NAV:       point.NAV,
		Cash:      point.Cash,
		Exposures: r.deps.Book.Exposures(),
	})
}

func (r *Runtime) checkHalt(cycle uint64, after string) bool {
	if !r.deps.Controller.Active() {
		return false
	}
	r.setStage(StageHalted)
	// The queued kill-switch and halt-confirmed messages still have to reach
	// deferred subscribers, halt or not.
	r.deps.Bus.Drain()
	r.audit("runtime", "cycle_halted", after, map[string]any{"cycle": cycle})
	return true
}

func (r *Runtime) feedback(proposal schema.TradeProposal, delta float64, reason string) {
	lead := proposal.LeadStrategy()
	if lead == "" {
		return
	}
	r.deps.Bus.Publish(schema.FeedbackMessage{Strategy: lead, Delta: delta, Reason: reason})
}

func (r *Runtime) enterStage(stage CycleStage, cycle uint64) {
	r.setStage(stage)
	r.audit("runtime", "stage_enter", stage.String(), map[string]any{"cycle": cycle})
}

func (r *Runtime) exitStage(stage CycleStage, cycle uint64) {
	r.audit("runtime", "stage_exit", stage.String(), map[string]any{"cycle": cycle})
}

func (r *Runtime) setStage(stage CycleStage) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
}

func (r *Runtime) audit(agent, eventType, contextRef string, payload map[string]any) {
	if r.deps.Audit == nil {
		return
	}
	r.mu.Lock()
	trace := r.trace
	r.mu.Unlock()
	if trace != 0 {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["trace"] = trace
	}
	if err := r.deps.Audit.Record(agent, eventType, contextRef, payload); err != nil {
		r.deps.Metrics.IncAuditDrop()
		logs.Errorf("audit %s/%s: %v", agent, eventType, err)
	}
}

// bookAdapter exposes the ledger through the council's sizing surface.
type bookAdapter struct {
	book *ledger.Ledger
}

func (b bookAdapter) Cash() float64 { return b.book.Cash() }

func (b bookAdapter) Position(symbol string) (float64, bool) {
	pos, ok := b.book.Position(symbol)
	return pos.Quantity, ok
}
