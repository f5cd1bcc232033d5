package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const (
	maxRiskStatus       = int(schema.RiskReject)
	maxComplianceStatus = int(schema.ComplianceConditional)
)

// Metrics collects lightweight counters and latency stats for the director
// loop.
type Metrics struct {
	cycles           uint64
	haltedCycles     uint64
	proposals        uint64
	riskCounts       [maxRiskStatus + 1]uint64
	complianceCounts [maxComplianceStatus + 1]uint64
	fills            uint64
	sliceFailures    uint64
	auditDrops       uint64

	cycleLatency    LatencyStats
	riskEvalLatency LatencyStats
	submitLatency   LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Cycles           uint64
	HaltedCycles     uint64
	Proposals        uint64
	RiskCounts       map[schema.RiskStatus]uint64
	ComplianceCounts map[schema.ComplianceStatus]uint64
	Fills            uint64
	SliceFailures    uint64
	AuditDrops       uint64
	CycleLatency     LatencySnapshot
	RiskEvalLatency  LatencySnapshot
	SubmitLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncCycle records a started cycle.
func (m *Metrics) IncCycle() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.cycles, 1)
}

// IncHaltedCycle records a cycle blocked or aborted by the kill switch.
func (m *Metrics) IncHaltedCycle() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.haltedCycles, 1)
}

// IncProposal records an emitted proposal.
func (m *Metrics) IncProposal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.proposals, 1)
}

// IncRiskStatus increments the counter for a risk decision outcome.
func (m *Metrics) IncRiskStatus(status schema.RiskStatus) {
	if m == nil {
		return
	}
	idx := int(status)
	if idx >= 0 && idx < len(m.riskCounts) {
		atomic.AddUint64(&m.riskCounts[idx], 1)
	}
}

// IncComplianceStatus increments the counter for a compliance outcome.
func (m *Metrics) IncComplianceStatus(status schema.ComplianceStatus) {
	if m == nil {
		return
	}
	idx := int(status)
	if idx >= 0 && idx < len(m.complianceCounts) {
		atomic.AddUint64(&m.complianceCounts[idx], 1)
	}
}

// IncFill records a terminal execution report with filled quantity.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

// IncSliceFailure records a failed execution slice.
func (m *Metrics) IncSliceFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sliceFailures, 1)
}

// IncAuditDrop records an audit event dropped on a full queue.
func (m *Metrics) IncAuditDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.auditDrops, 1)
}

// ObserveCycle measures a full tick duration.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleLatency.Observe(d)
}

// ObserveRiskEval measures one risk evaluation.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveSubmit measures one execution submission.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	riskCounts := make(map[schema.RiskStatus]uint64)
	for i := range m.riskCounts {
		if v := atomic.LoadUint64(&m.riskCounts[i]); v > 0 {
			riskCounts[schema.RiskStatus(i)] = v
		}
	}
	complianceCounts := make(map[schema.ComplianceStatus]uint64)
	for i := range m.complianceCounts {
		if v := atomic.LoadUint64(&m.complianceCounts[i]); v > 0 {
			complianceCounts[schema.ComplianceStatus(i)] = v
		}
	}
	return Snapshot{
		Cycles:           atomic.LoadUint64(&m.cycles),
		HaltedCycles:     atomic.LoadUint64(&m.haltedCycles),
		Proposals:        atomic.LoadUint64(&m.proposals),
		RiskCounts:       riskCounts,
		ComplianceCounts: complianceCounts,
		Fills:            atomic.LoadUint64(&m.fills),
		SliceFailures:    atomic.LoadUint64(&m.sliceFailures),
		AuditDrops:       atomic.LoadUint64(&m.auditDrops),
		CycleLatency:     m.cycleLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
		SubmitLatency:    m.submitLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
