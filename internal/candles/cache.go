// Package candles caches price candles per (symbol, interval) with short-lived
// negative entries for empty or failed upstream answers.
package candles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/trongkhoidev/oreka-tracker/internal/storage"
	"github.com/trongkhoidev/oreka-tracker/pkg/cache"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix prefixes every mirrored candle entry.
const KeyPrefix = "candles:"

const (
	DefaultPositiveTTL = 5 * time.Minute
	DefaultNegativeTTL = 30 * time.Second
	DefaultStaleTTL    = 24 * time.Hour
	DefaultLimit       = 500
)

// ErrInvalidKey is returned for an empty symbol or unsupported interval.
var ErrInvalidKey = errors.New("invalid candle key")

var validIntervals = map[string]bool{
	"1s": true, "1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Config holds candle cache configuration.
type Config struct {
	Cache   cache.Cache
	Mirror  storage.Mirror
	Fetcher Fetcher
	Logger  *zap.Logger
	Limit   int

	PositiveTTL time.Duration
	NegativeTTL time.Duration

	// StaleTTL is how long a positive entry is kept as a fallback for
	// upstream failures after it stops being fresh.
	StaleTTL time.Duration

	Now func() time.Time
}

// Cache serves candles from memory and refreshes them from the upstream.
type Cache struct {
	cache       cache.Cache
	mirror      storage.Mirror
	fetcher     Fetcher
	logger      *zap.Logger
	limit       int
	positiveTTL time.Duration
	negativeTTL time.Duration
	staleTTL    time.Duration
	now         func() time.Time
	group       singleflight.Group
}

// New creates a new candle cache.
func New(cfg *Config) (*Cache, error) {
	if cfg.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	c := &Cache{
		cache:       cfg.Cache,
		mirror:      cfg.Mirror,
		fetcher:     cfg.Fetcher,
		logger:      cfg.Logger,
		limit:       cfg.Limit,
		positiveTTL: cfg.PositiveTTL,
		negativeTTL: cfg.NegativeTTL,
		staleTTL:    cfg.StaleTTL,
		now:         cfg.Now,
	}
	if c.mirror == nil {
		c.mirror = storage.NewNopMirror(cfg.Logger)
	}
	if c.limit <= 0 {
		c.limit = DefaultLimit
	}
	if c.positiveTTL <= 0 {
		c.positiveTTL = DefaultPositiveTTL
	}
	if c.negativeTTL <= 0 {
		c.negativeTTL = DefaultNegativeTTL
	}
	if c.staleTTL < c.positiveTTL {
		c.staleTTL = DefaultStaleTTL
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c, nil
}

// Key builds the cache key for a symbol and interval.
func Key(symbol string, interval string) string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, strings.ToUpper(symbol), interval)
}

// Get returns candles for the key, fetching at most once per key at a time.
func (c *Cache) Get(ctx context.Context, symbol string, interval string) ([]types.Candle, error) {
	symbol, err := validate(symbol, interval)
	if err != nil {
		return nil, err
	}
	key := Key(symbol, interval)

	if entry, ok := c.lookup(key); ok && c.fresh(entry) {
		LookupsTotal.WithLabelValues(hitLabel(entry)).Inc()
		return entry.Data, nil
	}
	LookupsTotal.WithLabelValues("miss").Inc()

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.refresh(ctx, key, symbol, interval)
	})
	if shared {
		LookupsTotal.WithLabelValues("shared").Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.([]types.Candle), nil
}

// Prefetch refreshes the entry when it is missing or no longer fresh.
func (c *Cache) Prefetch(ctx context.Context, symbol string, interval string) error {
	symbol, err := validate(symbol, interval)
	if err != nil {
		return err
	}
	key := Key(symbol, interval)

	if entry, ok := c.lookup(key); ok && c.fresh(entry) {
		return nil
	}

	_, err, _ = c.group.Do(key, func() (interface{}, error) {
		return c.refresh(ctx, key, symbol, interval)
	})
	return err
}

// Load rehydrates mirrored entries that are still worth keeping.
func (c *Cache) Load(ctx context.Context) error {
	keys, err := c.mirror.Keys(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("list mirrored candles: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		data, err := c.mirror.Load(ctx, key)
		if err != nil {
			c.logger.Debug("discarding-mirrored-candles", zap.String("key", key), zap.Error(err))
			continue
		}

		var entry types.CandleEntry
		err = json.Unmarshal(data, &entry)
		if err != nil {
			c.logger.Debug("discarding-mirrored-candles", zap.String("key", key), zap.Error(err))
			continue
		}

		ttl := c.retention(&entry) - c.now().Sub(entry.FetchedAt)
		if ttl <= 0 {
			continue
		}

		c.cache.Set(key, &entry, ttl)
		loaded++
	}
	c.cache.Wait()

	c.logger.Info("candles-rehydrated",
		zap.Int("keys", len(keys)),
		zap.Int("loaded", loaded))

	return nil
}

// refresh fetches from upstream and records a positive or negative entry.
func (c *Cache) refresh(ctx context.Context, key, symbol, interval string) ([]types.Candle, error) {
	// Another caller may have refreshed while we waited for the group.
	prev, hasPrev := c.lookup(key)
	if hasPrev && c.fresh(prev) {
		return prev.Data, nil
	}

	start := time.Now()
	data, err := c.fetcher.Fetch(ctx, symbol, interval, c.limit)
	UpstreamDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		UpstreamFetchesTotal.WithLabelValues("error").Inc()

		if hasPrev && !prev.Negative {
			c.logger.Warn("candle-upstream-failed-serving-stale",
				zap.String("key", key),
				zap.Time("fetched-at", prev.FetchedAt),
				zap.Error(err))
			return prev.Data, nil
		}

		c.logger.Warn("candle-upstream-failed",
			zap.String("key", key),
			zap.Error(err))
		c.store(key, &types.CandleEntry{Data: []types.Candle{}, FetchedAt: c.now(), Negative: true})
		return nil, fmt.Errorf("fetch candles %s %s: %w", symbol, interval, err)
	}

	entry := &types.CandleEntry{
		Data:      data,
		FetchedAt: c.now(),
		Negative:  len(data) == 0,
	}
	if entry.Negative {
		entry.Data = []types.Candle{}
		UpstreamFetchesTotal.WithLabelValues("empty").Inc()
	} else {
		UpstreamFetchesTotal.WithLabelValues("ok").Inc()
	}

	c.store(key, entry)
	return entry.Data, nil
}

func (c *Cache) store(key string, entry *types.CandleEntry) {
	c.cache.Set(key, entry, c.retention(entry))
	c.cache.Wait()

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("marshal-candles-failed", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.mirror.Save(ctx, key, data)
	if err != nil {
		c.logger.Warn("persist-candles-failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) lookup(key string) (*types.CandleEntry, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(*types.CandleEntry)
	return entry, ok
}

func (c *Cache) fresh(entry *types.CandleEntry) bool {
	ttl := c.positiveTTL
	if entry.Negative {
		ttl = c.negativeTTL
	}
	return c.now().Sub(entry.FetchedAt) < ttl
}

func (c *Cache) retention(entry *types.CandleEntry) time.Duration {
	if entry.Negative {
		return c.negativeTTL
	}
	return c.staleTTL
}

func validate(symbol string, interval string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrInvalidKey)
	}
	if !validIntervals[interval] {
		return "", fmt.Errorf("%w: interval %q", ErrInvalidKey, interval)
	}
	return symbol, nil
}

func hitLabel(entry *types.CandleEntry) string {
	if entry.Negative {
		return "negative-hit"
	}
	return "hit"
}
