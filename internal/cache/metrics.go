package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheEntries tracks how many records the in-memory map holds.
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "caching_proxy_cache_entries",
			Help: "Number of responses currently held in the cache",
		},
	)

	// ioFailures counts snapshot I/O problems that were downgraded to warnings.
	ioFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caching_proxy_cache_io_failures_total",
			Help: "Total number of cache snapshot I/O failures",
		},
		[]string{"operation"}, // "load", "persist", "clear"
	)
)
