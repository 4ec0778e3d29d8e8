package kafka

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	msgs     *prometheus.CounterVec
	apply    *prometheus.CounterVec
	proc     *prometheus.HistogramVec
	lagGauge prometheus.Gauge
	dropped  prometheus.Counter
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coverage_invalidation_msgs_total",
				Help: "Count of invalidation messages by result.",
			},
			[]string{"result"},
		),
		apply: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coverage_invalidation_apply_total",
				Help: "Actions taken during invalidation.",
			},
			[]string{"action"},
		),
		proc: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coverage_invalidation_processing_seconds",
				Help:    "End-to-end processing time for one message.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"op"},
		),
		lagGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coverage_invalidation_lag_seconds",
				Help: "Approximate lag: now - message.timestamp.",
			},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coverage_invalidation_dedupe_dropped_total",
				Help: "Scopes dropped from the version dedupe, by capacity or after a failed apply.",
			},
		),
	}
	if r != nil {
		m.msgs = register(r, m.msgs)
		m.apply = register(r, m.apply)
		m.proc = register(r, m.proc)
		m.lagGauge = register(r, m.lagGauge)
		m.dropped = register(r, m.dropped)
	}
	return m
}

// register reuses an identical collector that is already registered, so
// several runners can share one registry.
func register[T prometheus.Collector](r prometheus.Registerer, c T) T {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
