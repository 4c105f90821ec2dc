package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache is a cache implementation using Ristretto.
type RistrettoCache struct {
	cache  *ristretto.Cache
	name   string
	logger *zap.Logger
}

// RistrettoConfig holds configuration for Ristretto cache.
type RistrettoConfig struct {
	Name        string // metrics label
	NumCounters int64  // keys tracked for admission, ~10x max items
	MaxCost     int64  // max items (each entry costs 1)
	BufferItems int64  // keys per Get buffer
	Logger      *zap.Logger
}

// NewRistrettoCache creates a new Ristretto-backed cache.
func NewRistrettoCache(cfg *RistrettoConfig) (*RistrettoCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "default"
	}

	return &RistrettoCache{
		cache:  cache,
		name:   name,
		logger: cfg.Logger,
	}, nil
}

// Get retrieves a value from the cache.
func (r *RistrettoCache) Get(key string) (interface{}, bool) {
	value, found := r.cache.Get(key)
	if found {
		CacheHitsTotal.WithLabelValues(r.name).Inc()
		r.logger.Debug("cache-hit", zap.String("cache", r.name), zap.String("key", key))
	} else {
		CacheMissesTotal.WithLabelValues(r.name).Inc()
		r.logger.Debug("cache-miss", zap.String("cache", r.name), zap.String("key", key))
	}
	return value, found
}

// Set stores a value in the cache with a TTL.
func (r *RistrettoCache) Set(key string, value interface{}, ttl time.Duration) bool {
	success := r.cache.SetWithTTL(key, value, 1, ttl)
	if success {
		CacheSetsTotal.WithLabelValues(r.name).Inc()
		r.logger.Debug("cache-set",
			zap.String("cache", r.name),
			zap.String("key", key),
			zap.Duration("ttl", ttl))
	} else {
		CacheDroppedSetsTotal.WithLabelValues(r.name).Inc()
	}
	return success
}

// Delete removes a value from the cache.
func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(key)
	CacheDeletesTotal.WithLabelValues(r.name).Inc()
	r.logger.Debug("cache-delete", zap.String("cache", r.name), zap.String("key", key))
}

// Wait blocks until all pending writes have been applied.
func (r *RistrettoCache) Wait() {
	r.cache.Wait()
}

// Clear removes all values from the cache.
func (r *RistrettoCache) Clear() {
	r.cache.Clear()
	r.logger.Info("cache-cleared", zap.String("cache", r.name))
}

// Close closes the cache and releases resources.
func (r *RistrettoCache) Close() {
	r.cache.Close()
	r.logger.Info("cache-closed", zap.String("cache", r.name))
}

// Metrics returns Ristretto's internal metrics.
func (r *RistrettoCache) Metrics() *ristretto.Metrics {
	return r.cache.Metrics
}
