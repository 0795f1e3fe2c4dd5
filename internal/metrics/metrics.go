// Package metrics exposes Prometheus instrumentation for the engine's
// ingest/search hot paths, the extraction pool, and the extraction cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups every metric the engine records. Construct with New and
// register it with a prometheus.Registerer of your choosing (or leave it
// unregistered for tests).
type Collector struct {
	IngestDuration  prometheus.Histogram
	SearchDuration  prometheus.Histogram
	PoolQueueDepth  prometheus.Gauge
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	RerankFallbacks prometheus.Counter
}

// New builds a Collector with namespace "memengine".
func New() *Collector {
	return &Collector{
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memengine",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of ingest calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memengine",
			Name:      "search_duration_seconds",
			Help:      "Duration of search calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		PoolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memengine",
			Name:      "extraction_pool_outstanding",
			Help:      "Number of extraction pool slots currently held.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "extraction_cache_hits_total",
			Help:      "Extraction cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "extraction_cache_misses_total",
			Help:      "Extraction cache misses.",
		}),
		RerankFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "rerank_fallback_total",
			Help:      "Times the reranker fell back to hybrid order.",
		}),
	}
}

// MustRegister registers every metric with reg.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.IngestDuration,
		c.SearchDuration,
		c.PoolQueueDepth,
		c.CacheHits,
		c.CacheMisses,
		c.RerankFallbacks,
	)
}

// ObserveIngest records how long an ingest call took.
func (c *Collector) ObserveIngest(d time.Duration) {
	c.IngestDuration.Observe(d.Seconds())
}

// ObserveSearch records how long a search call took.
func (c *Collector) ObserveSearch(d time.Duration) {
	c.SearchDuration.Observe(d.Seconds())
}
