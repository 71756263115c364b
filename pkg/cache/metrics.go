package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts lookups by cache and outcome (hit, miss, error)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circadian_cache_requests_total",
		Help: "Cache lookups by cache name and result",
	}, []string{"cache", "result"})

	// writeFailures counts values computed but not persisted
	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circadian_cache_write_failures_total",
		Help: "Computed values the durable store rejected",
	}, []string{"cache"})

	// computeDuration tracks compute callback latency on misses
	computeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "circadian_cache_compute_duration_seconds",
		Help:    "Compute duration on cache misses",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"cache"})

	// evictionsTotal counts entries removed by invalidation or expiry
	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circadian_cache_evictions_total",
		Help: "Entries removed by invalidation or expiry",
	}, []string{"cache", "reason"})
)
