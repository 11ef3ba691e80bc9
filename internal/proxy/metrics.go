package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts client requests by outcome.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caching_proxy_requests_total",
			Help: "Total number of proxied requests by cache outcome",
		},
		[]string{"cache"}, // "HIT", "MISS", "ERROR"
	)

	originDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "caching_proxy_origin_request_duration_seconds",
			Help:    "Latency of origin round trips, body included",
			Buckets: prometheus.DefBuckets,
		},
	)

	forwardErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caching_proxy_forward_errors_total",
			Help: "Total number of failed origin requests",
		},
	)
)
