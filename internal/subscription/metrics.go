package subscription

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollTicksTotal tracks poll ticks by outcome.
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oreka_subscription_poll_ticks_total",
			Help: "Total number of poll ticks by result",
		},
		[]string{"result"},
	)

	// PollDurationSeconds tracks the duration of one poll tick.
	PollDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oreka_subscription_poll_duration_seconds",
		Help:    "Duration of one poll tick",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveLoops tracks markets currently being polled.
	ActiveLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oreka_subscription_active_loops",
		Help: "Number of markets with a running poll loop",
	})

	// Subscribers tracks subscribers across all markets.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oreka_subscription_subscribers",
		Help: "Number of active subscribers",
	})

	// NotificationsTotal tracks callbacks invoked by source.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oreka_subscription_notifications_total",
			Help: "Total number of subscriber notifications",
		},
		[]string{"source"},
	)

	// CallbackPanicsTotal tracks recovered subscriber panics.
	CallbackPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oreka_subscription_callback_panics_total",
		Help: "Total number of recovered subscriber callback panics",
	})

	// GroundTruthMismatchTotal tracks reconstructed totals that disagreed with the ledger.
	GroundTruthMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oreka_subscription_ground_truth_mismatch_total",
		Help: "Total number of reconstructed totals corrected to on-chain totals",
	})

	// PendingLocalEvents tracks optimistic events awaiting ledger confirmation.
	PendingLocalEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oreka_subscription_pending_local_events",
		Help: "Number of local events not yet seen on the ledger",
	})
)
