package app

import (
	"context"
	"fmt"

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

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Initialize components
	healthChecker := setupHealthChecker()

	mirror, err := NewMirror(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup mirror: %w", err)
	}

	source := opts.Source
	closeSource := func() {}
	if source == nil {
		source, closeSource, err = NewSource(ctx, cfg, logger)
		if err != nil {
			cancel()
			_ = mirror.Close()
			return nil, fmt.Errorf("setup ledger source: %w", err)
		}
	}

	store, err := setupStore(cfg, logger, mirror)
	if err != nil {
		cancel()
		closeSource()
		_ = mirror.Close()
		return nil, fmt.Errorf("setup position store: %w", err)
	}

	bus := signal.NewBus(logger)

	multiplexer, err := subscription.New(&subscription.Config{
		Source:       source,
		Store:        store,
		Bus:          bus,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		PendingTTL:   cfg.PendingTTL,
	})
	if err != nil {
		cancel()
		closeSource()
		_ = mirror.Close()
		return nil, fmt.Errorf("setup multiplexer: %w", err)
	}

	candleStore, candleCache, err := NewCandles(cfg, logger, mirror)
	if err != nil {
		cancel()
		closeSource()
		_ = mirror.Close()
		return nil, fmt.Errorf("setup candles: %w", err)
	}

	warmer, err := setupWarmer(cfg, logger, candleCache)
	if err != nil {
		cancel()
		closeSource()
		candleStore.Close()
		_ = mirror.Close()
		return nil, fmt.Errorf("setup candle warmer: %w", err)
	}

	healthChecker.AddCheck("mirror", func(ctx context.Context) error {
		_, err := mirror.Keys(ctx, positions.KeyPrefix)
		return err
	})

	var httpServer *httpserver.Server
	if !opts.DisableHTTP {
		httpServer = httpserver.New(&httpserver.Config{
			Port:          cfg.HTTPPort,
			Logger:        logger,
			HealthChecker: healthChecker,
			Positions:     store,
			Stakes:        bus,
			Candles:       candleCache,
			Subscriptions: multiplexer,
		})
	}

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		mirror:        mirror,
		source:        source,
		closeSource:   closeSource,
		store:         store,
		bus:           bus,
		multiplexer:   multiplexer,
		candleStore:   candleStore,
		candles:       candleCache,
		warmer:        warmer,
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

// NewMirror opens the durable mirror selected by STORAGE_MODE.
func NewMirror(cfg *config.Config, logger *zap.Logger) (storage.Mirror, error) {
	switch cfg.StorageMode {
	case "file":
		fileMirror, err := storage.NewFileMirror(cfg.StorageDir, logger)
		if err != nil {
			return nil, fmt.Errorf("create file mirror: %w", err)
		}
		return fileMirror, nil
	case "sqlite":
		sqliteMirror, err := storage.NewSQLiteMirror(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("create sqlite mirror: %w", err)
		}
		return sqliteMirror, nil
	case "postgres":
		pgMirror, err := storage.NewPostgresMirror(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres mirror: %w", err)
		}
		return pgMirror, nil
	case "none", "":
		return storage.NewNopMirror(logger), nil
	}

	return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
}

// NewSource builds the ledger adapter selected by LEDGER_KIND. The returned
// func releases its connection.
func NewSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Source, func(), error) {
	switch cfg.LedgerKind {
	case "node", "":
		client, err := ledger.NewNodeClient(&ledger.NodeConfig{
			BaseURL:       cfg.LedgerNodeURL,
			ModuleAddress: cfg.LedgerModuleAddress,
			ModuleName:    cfg.LedgerModuleName,
			EventStruct:   cfg.LedgerEventStruct,
			ViewFunction:  cfg.LedgerViewFunction,
			TokenDecimals: int32(cfg.LedgerTokenDecimals),
			PageLimit:     cfg.LedgerPageLimit,
			Timeout:       cfg.LedgerRequestTimeout,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create node client: %w", err)
		}
		return client, func() {}, nil

	case "evm":
		source, err := ledger.NewEVMSource(ctx, &ledger.EVMConfig{
			RPCURL:          cfg.EVMRPCURL,
			ContractAddress: cfg.EVMContractAddress,
			FromBlock:       cfg.EVMFromBlock,
			TokenDecimals:   int32(cfg.LedgerTokenDecimals),
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create evm source: %w", err)
		}
		return source, source.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown ledger kind %q", cfg.LedgerKind)
}

func setupStore(cfg *config.Config, logger *zap.Logger, mirror storage.Mirror) (*positions.Store, error) {
	return positions.New(&positions.Config{
		Mirror:         mirror,
		Logger:         logger,
		MaxPoints:      cfg.PositionsMaxPoints,
		PctThreshold:   cfg.PositionsPctThreshold,
		TotalThreshold: cfg.PositionsTotalThreshold,
	})
}

// NewCandles builds the in-memory candle store and the read-through cache over it.
func NewCandles(cfg *config.Config, logger *zap.Logger, mirror storage.Mirror) (cache.Cache, *candles.Cache, error) {
	size := cfg.CandlesCacheSize
	if size <= 0 {
		size = 1000
	}

	store, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "candles",
		NumCounters: size * 10, // 10x expected max items
		MaxCost:     size,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create candle store: %w", err)
	}

	candleCache, err := candles.New(&candles.Config{
		Cache:       store,
		Mirror:      mirror,
		Fetcher:     candles.NewBinanceFetcher(cfg.CandlesBaseURL, cfg.LedgerRequestTimeout, logger),
		Logger:      logger,
		Limit:       cfg.CandlesLimit,
		PositiveTTL: cfg.CandlesPositiveTTL,
		NegativeTTL: cfg.CandlesNegativeTTL,
		StaleTTL:    cfg.CandlesStaleTTL,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("create candle cache: %w", err)
	}

	return store, candleCache, nil
}

func setupWarmer(cfg *config.Config, logger *zap.Logger, candleCache *candles.Cache) (*candles.Warmer, error) {
	keys, err := candles.ParseWarmKeys(cfg.CandleWarmKeys)
	if err != nil {
		return nil, fmt.Errorf("parse warm keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	warmer, err := candles.NewWarmer(&candles.WarmerConfig{
		Cache:    candleCache,
		Keys:     keys,
		Schedule: cfg.CandleWarmSchedule,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create warmer: %w", err)
	}

	return warmer, nil
}
