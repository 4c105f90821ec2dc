package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. Calls after the first are no-ops.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(a.shutdown)
	return nil
}

func (a *App) shutdown() {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	// Shutdown components in dependency order
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	err := a.shutdownHTTPServer(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Release watched markets
	for _, unsubscribe := range a.watchers {
		unsubscribe()
	}

	// Stop candle warmer
	if a.warmer != nil {
		a.warmer.Stop()
	}

	// Stop poll loops
	a.multiplexer.Close()

	// Close candle store
	a.candleStore.Close()

	// Close ledger source
	a.closeSource()

	// Close mirror
	err = a.mirror.Close()
	if err != nil {
		a.logger.Error("mirror-close-error", zap.Error(err))
	}

	// Wait for all goroutines
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")
}

func (a *App) shutdownHTTPServer(ctx context.Context) error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}
