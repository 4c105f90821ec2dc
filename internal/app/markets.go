package app

import (
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// watchMarkets keeps the given markets polled for the app's lifetime.
func (a *App) watchMarkets(marketIDs []string) {
	for _, marketID := range marketIDs {
		a.watchers = append(a.watchers, a.Watch(marketID, nil))
	}
}

// Watch subscribes to a market and logs each update. onUpdate, if set, is
// called with every snapshot. The returned func unsubscribes.
func (a *App) Watch(marketID string, onUpdate func(types.PositionSnapshot)) func() {
	a.logger.Info("watching-market", zap.String("market-id", marketID))

	return a.multiplexer.Subscribe(marketID, func(snap types.PositionSnapshot) {
		a.logger.Debug("market-updated",
			zap.String("market-id", marketID),
			zap.Int64("time", snap.Time),
			zap.Float64s("amounts", snap.Amounts),
			zap.Float64("total", snap.Total),
			zap.Bool("provisional", snap.Provisional))

		if onUpdate != nil {
			onUpdate(snap)
		}
	})
}
