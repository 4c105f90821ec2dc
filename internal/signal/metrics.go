package signal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsPublishedTotal tracks published local stake signals.
	SignalsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oreka_signal_published_total",
		Help: "Total number of local stake signals published",
	})

	// HandlerPanicsTotal tracks recovered handler panics.
	HandlerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oreka_signal_handler_panics_total",
		Help: "Total number of recovered signal handler panics",
	})
)
