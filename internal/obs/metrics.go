package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const maxOrderEvent = int(schema.OrderEventReconciled)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	orderEventCounts [maxOrderEvent + 1]uint64
	riskDenials      uint64
	submitRetries    uint64
	reconciles       uint64
	queueDrops       uint64

	submitLatency    LatencyStats
	riskCheckLatency LatencyStats
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
	OrderEventCounts map[schema.OrderEventType]uint64
	RiskDenials      uint64
	SubmitRetries    uint64
	Reconciles       uint64
	QueueDrops       uint64
	SubmitLatency    LatencySnapshot
	RiskCheckLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncOrderEvent counts one emitted lifecycle event.
func (m *Metrics) IncOrderEvent(t schema.OrderEventType) {
	if m == nil {
		return
	}
	idx := int(t)
	if idx >= 0 && idx < len(m.orderEventCounts) {
		atomic.AddUint64(&m.orderEventCounts[idx], 1)
	}
}

// IncRiskDenial records a denied submission.
func (m *Metrics) IncRiskDenial() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.riskDenials, 1)
}

// IncSubmitRetry records one transient-failure retry.
func (m *Metrics) IncSubmitRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.submitRetries, 1)
}

// IncReconcile records one reconciliation of an unknown-outcome order.
func (m *Metrics) IncReconcile() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconciles, 1)
}

// IncQueueDrop records an event-stream drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveSubmit measures submit round-trip latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveRiskCheck measures risk evaluation latency.
func (m *Metrics) ObserveRiskCheck(d time.Duration) {
	if m == nil {
		return
	}
	m.riskCheckLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	events := make(map[schema.OrderEventType]uint64)
	for i := range m.orderEventCounts {
		if v := atomic.LoadUint64(&m.orderEventCounts[i]); v > 0 {
			events[schema.OrderEventType(i)] = v
		}
	}
	return Snapshot{
		OrderEventCounts: events,
		RiskDenials:      atomic.LoadUint64(&m.riskDenials),
		SubmitRetries:    atomic.LoadUint64(&m.submitRetries),
		Reconciles:       atomic.LoadUint64(&m.reconciles),
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		SubmitLatency:    m.submitLatency.Snapshot(),
		RiskCheckLatency: m.riskCheckLatency.Snapshot(),
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
