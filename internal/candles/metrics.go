package candles

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LookupsTotal tracks Get results.
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oreka_candles_lookups_total",
			Help: "Total number of candle lookups by result",
		},
		[]string{"result"},
	)

	// UpstreamFetchesTotal tracks upstream fetches by result.
	UpstreamFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oreka_candles_upstream_fetches_total",
			Help: "Total number of upstream candle fetches by result",
		},
		[]string{"result"},
	)

	// UpstreamDurationSeconds tracks upstream fetch latency.
	UpstreamDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oreka_candles_upstream_duration_seconds",
		Help:    "Duration of upstream candle fetches",
		Buckets: prometheus.DefBuckets,
	})

	// WarmRunsTotal tracks scheduled warm runs.
	WarmRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oreka_candles_warm_runs_total",
		Help: "Total number of scheduled candle warm runs",
	})
)
