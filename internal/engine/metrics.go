package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
	events     *prometheus.CounterVec
	pool       prometheus.Gauge
	escrow     prometheus.Gauge
	members    prometheus.Gauge
	queueDepth prometheus.Gauge
	lastSeq    prometheus.Gauge
}

func (m *engineMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.operations = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "timebank_operations_total",
		Help: "sequenced operations by kind and outcome",
	}, []string{"kind", "outcome"})
	m.events = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "timebank_events_total",
		Help: "domain events emitted by name",
	}, []string{"name"})
	m.pool = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "timebank_pool_balance",
		Help: "emergency pool balance in credits",
	})
	m.escrow = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "timebank_escrow_credits",
		Help: "credits locked in accepted requests",
	})
	m.members = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "timebank_members",
		Help: "registered members",
	})
	m.queueDepth = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "timebank_queue_depth",
		Help: "operations waiting for the sequencer",
	})
	m.lastSeq = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "timebank_last_seq",
		Help: "seq of the last sequenced operation",
	})
}

// observe records one sequenced operation. Called from the Run loop with the
// state lock held.
func (m *engineMetrics) observe(rec store.Record, s *ledger.State) {
	m.operations.WithLabelValues(string(rec.Operation.Kind), string(rec.Outcome)).Inc()
	for _, ev := range rec.Events {
		m.events.WithLabelValues(ev.Name).Inc()
	}
	m.lastSeq.Set(float64(rec.Seq))
	m.setState(s)
}

func (m *engineMetrics) setState(s *ledger.State) {
	m.pool.Set(float64(s.PoolBalance()))
	m.escrow.Set(float64(s.Escrow()))
	m.members.Set(float64(s.MemberCount()))
}
