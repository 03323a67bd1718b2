// Package observability holds the Prometheus metrics shared by the services.
//
// A nil *Metrics is valid and records nothing, so services and tests can run
// without a registry.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "qrsafe"

type Metrics struct {
	ReputationLookups *prometheus.CounterVec // labels: state, failure
	CacheLookups      *prometheus.CounterVec // labels: result (hit, miss)
	BreakerState      prometheus.Gauge       // 0 closed, 1 open, 2 half-open
	Votes             *prometheus.CounterVec // labels: outcome
	Scans             *prometheus.CounterVec // labels: verdict
	SyncReplays       *prometheus.CounterVec // labels: outcome
	OutboxDepth       prometheus.Gauge
	LiveSubscribers   prometheus.Gauge
}

// NewMetrics creates the metric set and registers it on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReputationLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reputation",
			Name:      "lookups_total",
			Help:      "Reputation lookups by resulting state and failure class.",
		}, []string{"state", "failure"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reputation",
			Name:      "cache_lookups_total",
			Help:      "Reputation cache lookups by result.",
		}, []string{"result"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reputation",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "community",
			Name:      "votes_total",
			Help:      "Vote submissions and retractions by outcome.",
		}, []string{"outcome"}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Recorded scans by verdict. Duplicates are not counted.",
		}, []string{"verdict"}),
		SyncReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "replays_total",
			Help:      "Replayed offline operations by outcome.",
		}, []string{"outcome"}),
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "outbox_depth",
			Help:      "Operations waiting for the remote authority.",
		}),
		LiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Active live rating subscribers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ReputationLookups, m.CacheLookups, m.BreakerState, m.Votes,
			m.Scans, m.SyncReplays, m.OutboxDepth, m.LiveSubscribers)
	}
	return m
}

func (m *Metrics) ReputationLookup(state, failure string) {
	if m == nil {
		return
	}
	m.ReputationLookups.WithLabelValues(state, failure).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

func (m *Metrics) Vote(outcome string) {
	if m == nil {
		return
	}
	m.Votes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Scan(verdict string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(verdict).Inc()
}

func (m *Metrics) SyncReplay(outcome string) {
	if m == nil {
		return
	}
	m.SyncReplays.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetOutboxDepth(n int) {
	if m == nil {
		return
	}
	m.OutboxDepth.Set(float64(n))
}

func (m *Metrics) AddLiveSubscribers(delta int) {
	if m == nil {
		return
	}
	m.LiveSubscribers.Add(float64(delta))
}
