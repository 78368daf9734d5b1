// Package metrics holds the gateway's Prometheus collectors. They are
// registered with the default registry via promauto and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assistgen"

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Upstream failure stages.
const (
	StageConnect = "connect"
	StageStream  = "stream"
)

var (
	// CacheLookupsTotal counts cache lookups by partition prefix and result.
	// result: hit | miss | error
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by prefix and result.",
		},
		[]string{"prefix", "result"},
	)

	CacheUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "updates_total",
			Help:      "Total number of cache updates by prefix and outcome.",
		},
		[]string{"prefix", "outcome"},
	)

	// UpstreamFailuresTotal counts provider failures.
	// stage: connect (before the first chunk) | stream (in-band)
	UpstreamFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Total number of upstream provider failures by prefix and stage.",
		},
		[]string{"prefix", "stage"},
	)

	ReplayedChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "chunks_total",
			Help:      "Total number of chunks emitted by cache replays.",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code.",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds, including the full stream.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"route"},
	)
)
