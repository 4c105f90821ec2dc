package app

import (
	"context"
	"sync"

	"github.com/trongkhoidev/oreka-tracker/internal/candles"
	"github.com/trongkhoidev/oreka-tracker/internal/ledger"
	"github.com/trongkhoidev/oreka-tracker/internal/positions"
	"github.com/trongkhoidev/oreka-tracker/internal/signal"
	"github.com/trongkhoidev/oreka-tracker/internal/storage"
	"github.com/trongkhoidev/oreka-tracker/internal/subscription"
	"github.com/trongkhoidev/oreka-tracker/pkg/cache"
	"github.com/trongkhoidev/oreka-tracker/pkg/config"
	"github.com/trongkhoidev/oreka-tracker/pkg/healthprobe"
	"github.com/trongkhoidev/oreka-tracker/pkg/httpserver"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	mirror        storage.Mirror
	source        ledger.Source
	closeSource   func()
	store         *positions.Store
	bus           *signal.Bus
	multiplexer   *subscription.Multiplexer
	candleStore   cache.Cache
	candles       *candles.Cache
	warmer        *candles.Warmer
	opts          *Options
	watchers      []func()
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	shutdownOnce  sync.Once
}

// Options holds application options.
type Options struct {
	// Markets are polled from startup regardless of API subscribers.
	Markets []string

	// DisableHTTP skips the HTTP server, for CLI commands.
	DisableHTTP bool

	// Source replaces the configured ledger adapter.
	Source ledger.Source
}

// Store returns the position store.
func (a *App) Store() *positions.Store {
	return a.store
}

// Multiplexer returns the subscription multiplexer.
func (a *App) Multiplexer() *subscription.Multiplexer {
	return a.multiplexer
}

// Bus returns the local signal bus.
func (a *App) Bus() *signal.Bus {
	return a.bus
}

// Candles returns the candle cache.
func (a *App) Candles() *candles.Cache {
	return a.candles
}
