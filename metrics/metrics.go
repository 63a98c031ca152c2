package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IndicatorsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sip_indicators_created_total",
			Help: "Total number of indicators created",
		},
		[]string{"type"},
	)

	IndicatorsBulkSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sip_indicators_bulk_skipped_total",
			Help: "Total number of bulk indicators skipped as duplicates",
		},
	)

	IndicatorQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sip_indicator_queries_total",
			Help: "Total number of filtered indicator queries",
		},
		[]string{"mode"},
	)

	IndicatorQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sip_indicator_query_duration_seconds",
			Help:    "Time taken to run filtered indicator queries",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sip_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sip_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
