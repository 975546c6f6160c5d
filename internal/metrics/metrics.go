// Package metrics holds the Prometheus collectors of the room relay.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coderoom"

// Drop reasons.
const (
	ReasonNotMember   = "not_member"
	ReasonMalformed   = "malformed"
	ReasonRateLimited = "rate_limited"
)

type Metrics struct {
	mutations    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	backpressure prometheus.Counter
	joins        prometheus.Counter
	leaves       prometheus.Counter
	fullSyncs    prometheus.Counter
	evictions    prometheus.Counter
	rooms        prometheus.Gauge
	connections  prometheus.Gauge
	execDuration prometheus.Histogram
	execFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Mutations applied and forwarded, by kind",
		}, []string{"kind"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_dropped_total",
			Help:      "Mutations rejected before reaching room state, by reason",
		}, []string{"reason"}),
		backpressure: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_backpressure_total",
			Help:      "Frames not delivered because a member's send queue was full",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Room joins",
		}),
		leaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_total",
			Help:      "Room leaves, explicit or by disconnect",
		}),
		fullSyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_syncs_total",
			Help:      "Peer full-sync payloads merged",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_evictions_total",
			Help:      "Rooms evicted after staying empty",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Room states held in memory",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
		execDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exec_duration_seconds",
			Help:      "Remote code execution round trip",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		execFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exec_failures_total",
			Help:      "Remote code execution calls that failed",
		}),
	}
}

func (m *Metrics) MutationApplied(kind string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind).Inc()
}

func (m *Metrics) MutationDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Backpressure(n int) {
	if m == nil || n == 0 {
		return
	}
	m.backpressure.Add(float64(n))
}

func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *Metrics) Left() {
	if m == nil {
		return
	}
	m.leaves.Inc()
}

func (m *Metrics) FullSynced() {
	if m == nil {
		return
	}
	m.fullSyncs.Inc()
}

func (m *Metrics) RoomCreated() {
	if m == nil {
		return
	}
	m.rooms.Inc()
}

func (m *Metrics) RoomEvicted() {
	if m == nil {
		return
	}
	m.rooms.Dec()
	m.evictions.Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) ObserveExec(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.execDuration.Observe(d.Seconds())
	if err != nil {
		m.execFailures.Inc()
	}
}
