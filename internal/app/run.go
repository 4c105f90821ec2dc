package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("ledger-kind", a.cfg.LedgerKind),
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.Duration("poll-interval", a.cfg.PollInterval),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.Start()
	if err != nil {
		return err
	}

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Int("watched-markets", len(a.opts.Markets)))

	// Wait for shutdown signal
	return a.waitForShutdown()
}

// Start rehydrates state from the mirror and starts every component without blocking.
func (a *App) Start() error {
	err := a.store.Load(a.ctx)
	if err != nil {
		a.logger.Warn("position-rehydrate-failed", zap.Error(err))
	}

	err = a.candles.Load(a.ctx)
	if err != nil {
		a.logger.Warn("candle-rehydrate-failed", zap.Error(err))
	}

	err = a.multiplexer.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start multiplexer: %w", err)
	}

	if a.httpServer != nil {
		a.wg.Add(1)
		go a.runHTTPServer()
	}

	if a.warmer != nil {
		a.warmer.Start()
	}

	a.watchMarkets(a.opts.Markets)

	a.healthChecker.SetReady(true)
	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}

// Wait blocks until SIGINT/SIGTERM or Shutdown, then shuts down.
func (a *App) Wait() error {
	return a.waitForShutdown()
}
