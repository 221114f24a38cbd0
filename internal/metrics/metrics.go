package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamAttempts counts completion attempts by outcome (ok, retryable, cancelled, fatal).
	UpstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightchat_upstream_attempts_total",
		Help: "Upstream completion attempts by outcome",
	}, []string{"outcome"})

	UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightchat_upstream_retries_total",
		Help: "Upstream completion retries after a failed attempt",
	})

	UpstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lightchat_upstream_call_duration_seconds",
		Help:    "Wall time of a full upstream completion call including retries",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// SearchFetches counts page fetches by result (content, skipped, failed).
	SearchFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightchat_search_fetches_total",
		Help: "Search result page fetches by result",
	}, []string{"result"})

	SearchDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightchat_search_duplicates_removed_total",
		Help: "Search results dropped as near duplicates",
	})

	// Turns counts finished chat turns by mode and outcome.
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightchat_turns_total",
		Help: "Chat turns by mode and outcome",
	}, []string{"mode", "outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightchat_cache_lookups_total",
		Help: "Store cache lookups by result",
	}, []string{"result"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
