package httpserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StakesAcceptedTotal counts local stakes published through the API.
	StakesAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oreka_http_stakes_accepted_total",
			Help: "Total number of local stakes accepted by the API",
		},
	)

	// StreamConnections tracks open WebSocket streams.
	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oreka_http_stream_connections",
			Help: "Number of open snapshot streams",
		},
	)

	// StreamDroppedTotal counts snapshots dropped for slow stream clients.
	StreamDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oreka_http_stream_dropped_total",
			Help: "Total number of snapshots dropped because a stream client was too slow",
		},
	)
)
