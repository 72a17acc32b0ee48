// Package metrics exposes Prometheus instrumentation for the memory core,
// grounded on the package-level gauge/counter/histogram registration style
// used elsewhere in the example pack.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EmbeddingCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memcore_embedding_cache_hits_total",
		Help: "Total embedding cache lookups served without calling the provider",
	})

	EmbeddingCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memcore_embedding_cache_misses_total",
		Help: "Total embedding cache lookups that required a provider call",
	})

	EmbeddingRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memcore_embedding_request_duration_seconds",
		Help:    "Duration of embedding provider calls",
		Buckets: prometheus.DefBuckets,
	})

	SyncRetryQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memcore_sync_retry_queue_depth",
		Help: "Number of memories currently pending graph-store reconciliation",
	})

	SyncFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memcore_sync_failures_total",
		Help: "Total memories whose graph-store write exhausted its retry budget",
	})

	QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memcore_query_duration_seconds",
		Help:    "Duration of query engine operations by operation name",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	NormalizationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memcore_normalization_duration_seconds",
		Help:    "Duration of normalizer passes by phase",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	MemoriesByVariant = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memcore_memories_total",
		Help: "Current memory count by variant",
	}, []string{"variant"})
)

// Register adds all collectors to the default registry. Call once at
// process startup.
func Register() {
	prometheus.MustRegister(
		EmbeddingCacheHits,
		EmbeddingCacheMisses,
		EmbeddingRequestDuration,
		SyncRetryQueueDepth,
		SyncFailuresTotal,
		QueryDuration,
		NormalizationDuration,
		MemoriesByVariant,
	)
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
