// Package metrics holds the prometheus collectors shared by the reader and
// the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dsu"

// Outcome labels for TxOutcomes.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeRejected  = "rejected"
	OutcomeNotFound  = "not_found"
	OutcomeReverted  = "reverted"
	OutcomeFailed    = "submit_failed"
)

type Metrics struct {
	TxOutcomes   *prometheus.CounterVec
	TxDuration   *prometheus.HistogramVec
	TxInFlight   prometheus.Gauge
	Reads        *prometheus.CounterVec
	ReadFailures *prometheus.CounterVec
	ReadDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg keeps them unregistered,
// which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TxOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "outcomes_total",
			Help:      "Finished transactions by intent kind and outcome",
		}, []string{"kind", "outcome"}),
		TxDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "duration_seconds",
			Help:      "Time from signature request to a terminal status",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"kind"}),
		TxInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "in_flight",
			Help:      "1 while a transaction is between signature request and a terminal status",
		}),
		Reads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "reads_total",
			Help:      "View calls applied to the account state",
		}, []string{"query"}),
		ReadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "read_failures_total",
			Help:      "View calls that failed and left the previous value in place",
		}, []string{"query"}),
		ReadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "read_duration_seconds",
			Help:      "View call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
	}
}

func (m *Metrics) ObserveRead(query string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ReadDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		m.ReadFailures.WithLabelValues(query).Inc()
		return
	}
	m.Reads.WithLabelValues(query).Inc()
}

func (m *Metrics) ObserveTx(kind, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.TxOutcomes.WithLabelValues(kind, outcome).Inc()
	m.TxDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetInFlight(inFlight bool) {
	if m == nil {
		return
	}
	if inFlight {
		m.TxInFlight.Set(1)
	} else {
		m.TxInFlight.Set(0)
	}
}
