package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchErrorsTotal tracks failed ledger reads by source and operation.
	FetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_ledger_fetch_errors_total",
		Help: "Total number of failed ledger reads",
	}, []string{"source", "operation"})

	// FetchDurationSeconds tracks ledger read latency.
	FetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oreka_ledger_fetch_duration_seconds",
		Help:    "Duration of ledger reads",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "operation"})

	// EventsFetchedTotal tracks normalized events returned to callers.
	EventsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_ledger_events_fetched_total",
		Help: "Total number of normalized ledger events",
	}, []string{"source", "kind"})

	// EventsDroppedTotal tracks raw events discarded during normalization.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oreka_ledger_events_dropped_total",
		Help: "Total number of raw ledger events dropped during normalization",
	}, []string{"source", "reason"})
)
