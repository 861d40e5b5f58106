package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metasearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metasearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metasearch",
		Name:      "source_requests_total",
		Help:      "Total requests to catalog sources by source name and result status.",
	}, []string{"source", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metasearch",
		Name:      "source_request_duration_seconds",
		Help:      "Catalog source request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"source"})

	SourceAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "metasearch",
		Name:      "source_available",
		Help:      "Whether a source is available (1) or blocked by circuit breaker (0).",
	}, []string{"source"})

	RetrySearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metasearch",
		Name:      "retry_searches_total",
		Help:      "Remix-stripped retry searches by source.",
	}, []string{"source"})

	RenderEscalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metasearch",
		Name:      "render_escalations_total",
		Help:      "Headless render escalations by source.",
	}, []string{"source"})

	RenderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "metasearch",
		Name:      "render_request_duration_seconds",
		Help:      "Headless render request duration in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
	})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metasearch",
		Name:      "cache_hits_total",
		Help:      "Cache hits by cache name.",
	}, []string{"cache"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metasearch",
		Name:      "cache_misses_total",
		Help:      "Cache misses by cache name.",
	}, []string{"cache"})

	TagWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metasearch",
		Name:      "tag_writes_total",
		Help:      "Tag write attempts by result status.",
	}, []string{"status"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceAvailable,
		RetrySearchesTotal,
		RenderEscalationsTotal,
		RenderDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		TagWritesTotal,
	)
}
