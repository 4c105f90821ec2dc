package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"cache"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"cache"})

	CacheSetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_cache_sets_total",
		Help: "Total number of cache sets",
	}, []string{"cache"})

	CacheDroppedSetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_cache_dropped_sets_total",
		Help: "Total number of cache sets rejected by the admission policy",
	}, []string{"cache"})

	CacheDeletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_cache_deletes_total",
		Help: "Total number of cache deletes",
	}, []string{"cache"})
)
