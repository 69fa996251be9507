package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairweather_provider_calls_total",
			Help: "Total upstream provider calls",
		},
		[]string{"provider", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fairweather_provider_latency_seconds",
			Help:    "Upstream provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairweather_records_ingested_total",
			Help: "Total daily records accepted from providers",
		},
		[]string{"provider"},
	)

	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairweather_records_rejected_total",
			Help: "Daily records dropped by validation",
		},
		[]string{"flag"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fairweather_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairweather_analyses_total",
			Help: "Analyses completed, by path and strategy",
		},
		[]string{"path", "strategy"},
	)

	AnalysisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fairweather_analysis_latency_seconds",
			Help:    "End-to-end analysis latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairweather_fallbacks_total",
			Help: "Times a fallback was used instead of provider data",
		},
		[]string{"kind"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairweather_record_cache_lookups_total",
			Help: "Daily record cache lookups by result",
		},
		[]string{"result"},
	)
)
