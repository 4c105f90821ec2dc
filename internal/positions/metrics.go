package positions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal tracks applied updates by source and significance.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oreka_positions_updates_total",
			Help: "Total number of position updates applied",
		},
		[]string{"source", "result"},
	)

	// MarketsTracked tracks the number of market timelines in memory.
	MarketsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oreka_positions_markets_tracked",
		Help: "Number of market timelines held in memory",
	})

	// PointsTrimmedTotal tracks points evicted by the max length cap.
	PointsTrimmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oreka_positions_points_trimmed_total",
		Help: "Total number of timeline points evicted by the length cap",
	})

	// MirrorWritesTotal tracks mirror writes by result.
	MirrorWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oreka_positions_mirror_writes_total",
			Help: "Total number of timeline writes to the durable mirror",
		},
		[]string{"result"},
	)

	// RehydratedTotal tracks mirror entries loaded or discarded at startup.
	RehydratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oreka_positions_rehydrated_total",
			Help: "Total number of mirrored timelines processed at startup",
		},
		[]string{"result"},
	)
)
