package candles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultWarmSchedule refreshes warm keys every minute.
const DefaultWarmSchedule = "@every 1m"

// WarmKey is one (symbol, interval) pair kept warm.
type WarmKey struct {
	Symbol   string
	Interval string
}

// ParseWarmKeys parses "BTCUSDT:1m,ETHUSDT:1h".
func ParseWarmKeys(s string) ([]WarmKey, error) {
	var keys []WarmKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		symbol, interval, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q, want SYMBOL:INTERVAL", ErrInvalidKey, part)
		}
		_, err := validate(symbol, interval)
		if err != nil {
			return nil, err
		}
		keys = append(keys, WarmKey{Symbol: strings.ToUpper(symbol), Interval: interval})
	}
	return keys, nil
}

// Warmer prefetches configured keys on a cron schedule.
type Warmer struct {
	cache    *Cache
	keys     []WarmKey
	schedule string
	cron     *cron.Cron
	timeout  time.Duration
	logger   *zap.Logger
}

// WarmerConfig holds warmer configuration.
type WarmerConfig struct {
	Cache    *Cache
	Keys     []WarmKey
	Schedule string
	Logger   *zap.Logger
}

// NewWarmer validates the schedule and registers the warm job.
func NewWarmer(cfg *WarmerConfig) (*Warmer, error) {
	if cfg.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultWarmSchedule
	}

	w := &Warmer{
		cache:    cfg.Cache,
		keys:     cfg.Keys,
		schedule: schedule,
		cron:     cron.New(),
		timeout:  30 * time.Second,
		logger:   cfg.Logger,
	}

	_, err := w.cron.AddFunc(schedule, w.RunNow)
	if err != nil {
		return nil, fmt.Errorf("register warm schedule %q: %w", schedule, err)
	}

	return w, nil
}

// Start warms once and then follows the schedule.
func (w *Warmer) Start() {
	w.logger.Info("candle-warmer-starting",
		zap.String("schedule", w.schedule),
		zap.Int("keys", len(w.keys)))

	go w.RunNow()
	w.cron.Start()
}

// Stop stops the schedule and waits for a running warm to finish.
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("candle-warmer-stopped")
}

// RunNow prefetches every key once.
func (w *Warmer) RunNow() {
	WarmRunsTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	for _, k := range w.keys {
		err := w.cache.Prefetch(ctx, k.Symbol, k.Interval)
		if err != nil {
			w.logger.Warn("candle-warm-failed",
				zap.String("symbol", k.Symbol),
				zap.String("interval", k.Interval),
				zap.Error(err))
		}
	}
}
