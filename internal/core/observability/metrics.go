// Package observability holds the service's Prometheus collectors. Collectors
// are package level so any component can record without plumbing; Init binds
// them to a registry.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	analysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_analysis_duration_seconds",
			Help:    "Wall time of full NDVI coverage analyses.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"outcome"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_cache_results_total",
			Help: "Cache lookups by calculation type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	cacheOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_cache_op_seconds",
			Help:    "Latency of cache store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend", "op", "result"},
	)

	cacheInvalidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_cache_invalidated_total",
			Help: "Entries removed by invalidation, by scope.",
		},
		[]string{"scope"},
	)

	refreshCities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_refresh_cities_total",
			Help: "Cities handled by refresh runs, by outcome.",
		},
		[]string{"outcome"},
	)

	refreshLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coverage_refresh_last_run_timestamp_seconds",
			Help: "Unix time at which the last refresh run finished.",
		},
		[]string{"trigger"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled job executions by job and result.",
		},
		[]string{"job", "result"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "result"},
	)
)

func allCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		analysisDurationSeconds,
		cacheResults, cacheOpSeconds, cacheInvalidated,
		refreshCities, refreshLastRun,
		jobRuns,
		upstreamLatencySeconds,
	}
}

// Init registers every collector on reg. Registering twice on the same
// registry is a no-op.
func Init(reg prometheus.Registerer) error {
	for _, c := range allCollectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveAnalysis(ok bool, durationSeconds float64) {
	analysisDurationSeconds.WithLabelValues(outcome(ok)).Observe(durationSeconds)
}

func IncCacheHit(calcType string)  { cacheResults.WithLabelValues(calcType, "hit").Inc() }
func IncCacheMiss(calcType string) { cacheResults.WithLabelValues(calcType, "miss").Inc() }

func ObserveCacheOp(backend, op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpSeconds.WithLabelValues(backend, op, res).Observe(durationSeconds)
}

func AddInvalidated(scope string, n int) {
	if n > 0 {
		cacheInvalidated.WithLabelValues(scope).Add(float64(n))
	}
}

func AddRefreshCities(processed, errs, skipped int) {
	refreshCities.WithLabelValues("processed").Add(float64(processed))
	refreshCities.WithLabelValues("error").Add(float64(errs))
	refreshCities.WithLabelValues("skipped").Add(float64(skipped))
}

func SetRefreshLastRun(trigger string, unixSeconds float64) {
	refreshLastRun.WithLabelValues(trigger).Set(unixSeconds)
}

func IncJobRun(job string, ok bool) { jobRuns.WithLabelValues(job, outcome(ok)).Inc() }

func ObserveUpstreamLatency(upstream string, ok bool, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, outcome(ok)).Observe(durationSeconds)
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
