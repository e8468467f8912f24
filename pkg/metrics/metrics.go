// Package metrics holds the Prometheus collectors of the offline cache.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "offline_cache"

type Metrics struct {
	// requests by route, strategy and result (hit, fwd, abstain, error)
	Requests *prometheus.CounterVec
	// writes into a cache namespace
	Admits *prometheus.CounterVec
	// entries removed by the expiration policy, by reason (age, count)
	Evictions *prometheus.CounterVec
	// network fetch duration by strategy
	FetchDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
// Collectors can only be registered once per registry, so one Metrics is shared by all engine versions.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of intercepted requests",
			},
			[]string{"route", "strategy", "result"},
		),
		Admits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admits_total",
				Help:      "Total number of responses written to a cache namespace",
			},
			[]string{"namespace"},
		),
		Evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Total number of entries evicted from a cache namespace",
			},
			[]string{"namespace", "reason"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Network fetch duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"strategy"},
		),
	}
}

func (m *Metrics) RecordRequest(route, strategy, result string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strategy, result).Inc()
}

func (m *Metrics) RecordAdmit(ns string) {
	if m == nil {
		return
	}
	m.Admits.WithLabelValues(ns).Inc()
}

func (m *Metrics) RecordEviction(ns, reason string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(ns, reason).Inc()
}

func (m *Metrics) RecordFetch(strategy string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}
