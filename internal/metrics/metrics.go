// Package metrics holds the Prometheus instruments of the retrieval core.
// Registration is explicit from main, never from init().
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aidok",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aidok",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aidok",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	RerankRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aidok",
			Name:      "rerank_requests_total",
			Help:      "Total number of rerank requests",
		},
		[]string{"model", "status"},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aidok",
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval duration per strategy",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"strategy"},
	)

	RetrievalLowConfidenceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aidok",
			Name:      "retrieval_low_confidence_total",
			Help:      "Queries answered with the low_confidence flag",
		},
	)

	IndexedFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aidok",
			Name:      "indexed_files_total",
			Help:      "Files processed by bulk indexing",
		},
		[]string{"result"}, // "ok" / "failed" / "skipped"
	)

	IndexedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aidok",
			Name:      "indexed_chunks_total",
			Help:      "Chunks flushed to the indexes",
		},
	)
)

var registered bool

// Register registers all core metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingCacheTotal,
		RerankRequestsTotal,
		RetrievalDuration,
		RetrievalLowConfidenceTotal,
		IndexedFilesTotal,
		IndexedChunksTotal,
	)
	registered = true
}
