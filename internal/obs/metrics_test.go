package obs

import (
	"testing"
	"time"

	"main/internal/schema"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncOrderEvent(schema.OrderEventSubmitted)
	m.IncOrderEvent(schema.OrderEventFill)
	m.IncOrderEvent(schema.OrderEventFill)
	m.IncRiskDenial()
	m.ObserveSubmit(10 * time.Millisecond)
	m.ObserveSubmit(30 * time.Millisecond)

	s := m.Snapshot()
	if s.OrderEventCounts[schema.OrderEventFill] != 2 {
		t.Fatalf("fill count: %d", s.OrderEventCounts[schema.OrderEventFill])
	}
	if s.RiskDenials != 1 {
		t.Fatalf("risk denials: %d", s.RiskDenials)
	}
	if s.SubmitLatency.Count != 2 || s.SubmitLatency.Min != 10*time.Millisecond || s.SubmitLatency.Max != 30*time.Millisecond {
		t.Fatalf("submit latency: %+v", s.SubmitLatency)
	}
	if s.SubmitLatency.Avg != 20*time.Millisecond {
		t.Fatalf("avg latency: %v", s.SubmitLatency.Avg)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncOrderEvent(schema.OrderEventSubmitted)
	m.IncQueueDrop()
	m.ObserveRiskCheck(time.Millisecond)
	if s := m.Snapshot(); s.QueueDrops != 0 {
		t.Fatalf("nil snapshot: %+v", s)
	}
}
