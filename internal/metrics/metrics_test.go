package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.MutationApplied("document-change")
	m.MutationApplied("document-change")
	m.MutationApplied("mode-change")
	m.MutationDropped(ReasonNotMember)
	m.Backpressure(3)
	m.Backpressure(0)

	if v := counterValue(t, m.mutations.WithLabelValues("document-change")); v != 2 {
		t.Errorf("document-change = %v, want 2", v)
	}
	if v := counterValue(t, m.mutations.WithLabelValues("mode-change")); v != 1 {
		t.Errorf("mode-change = %v, want 1", v)
	}
	if v := counterValue(t, m.dropped.WithLabelValues(ReasonNotMember)); v != 1 {
		t.Errorf("not_member = %v, want 1", v)
	}
	if v := counterValue(t, m.backpressure); v != 3 {
		t.Errorf("backpressure = %v, want 3", v)
	}
}

func TestGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RoomCreated()
	m.RoomCreated()
	m.RoomEvicted()
	m.ConnOpened()

	if v := gaugeValue(t, m.rooms); v != 1 {
		t.Errorf("rooms = %v, want 1", v)
	}
	if v := counterValue(t, m.evictions); v != 1 {
		t.Errorf("evictions = %v, want 1", v)
	}
	if v := gaugeValue(t, m.connections); v != 1 {
		t.Errorf("connections = %v, want 1", v)
	}
}

func TestObserveExec(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveExec(time.Second, nil)
	m.ObserveExec(time.Second, errors.New("boom"))
	if v := counterValue(t, m.execFailures); v != 1 {
		t.Errorf("exec failures = %v, want 1", v)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.MutationApplied("x")
	m.MutationDropped("y")
	m.Backpressure(1)
	m.Joined()
	m.Left()
	m.FullSynced()
	m.RoomCreated()
	m.RoomEvicted()
	m.ConnOpened()
	m.ConnClosed()
	m.ObserveExec(time.Second, nil)
}
