package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trongkhoidev/oreka-tracker/internal/signal"
	"github.com/trongkhoidev/oreka-tracker/internal/subscription"
	"github.com/trongkhoidev/oreka-tracker/pkg/healthprobe"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

// PositionReader serves tracked timelines.
type PositionReader interface {
	GetCurrent(marketID string) (types.PositionSnapshot, bool)
	GetHistory(marketID string, window types.HistoryWindow) []types.PositionSnapshot
	Markets() []string
}

// StakePublisher broadcasts locally placed stakes.
type StakePublisher interface {
	Publish(sig signal.StakePlaced)
}

// CandleReader serves cached price candles.
type CandleReader interface {
	Get(ctx context.Context, symbol string, interval string) ([]types.Candle, error)
}

// Subscriber streams snapshot updates for a market.
type Subscriber interface {
	Subscribe(marketID string, cb subscription.Callback) (unsubscribe func())
}

// Server provides HTTP endpoints for positions, candles, metrics and health checks.
type Server struct {
	server        *http.Server
	handler       http.Handler
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker

	Positions     PositionReader
	Stakes        StakePublisher
	Candles       CandleReader
	Subscriptions Subscriber

	// AllowedOrigins limits WebSocket origins. Empty allows all.
	AllowedOrigins []string
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Routes
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		if cfg.Positions != nil {
			ph := NewPositionsHandler(cfg.Positions, cfg.Stakes, cfg.Logger)
			r.Get("/api/markets", ph.HandleMarkets)
			r.Get("/api/markets/{marketID}/current", ph.HandleCurrent)
			r.Get("/api/markets/{marketID}/history", ph.HandleHistory)
			if cfg.Stakes != nil {
				r.Post("/api/markets/{marketID}/stakes", ph.HandleStake)
			}
		}

		if cfg.Candles != nil {
			ch := NewCandlesHandler(cfg.Candles, cfg.Logger)
			r.Get("/api/candles", ch.HandleCandles)
		}
	})

	// Streams are long-lived and stay outside the request timeout.
	if cfg.Subscriptions != nil {
		sh := NewStreamHandler(cfg.Subscriptions, cfg.AllowedOrigins, cfg.Logger)
		r.Get("/ws/markets/{marketID}", sh.HandleStream)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		handler:       r,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
