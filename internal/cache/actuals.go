// Package cache provides an optional redis read-through cache in front of
// the actuals source, keeping repeated reconciliation runs cheap when the
// upstream provider is slow or metered.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/duration"
	"github.com/forecastops/forecastops/internal/source"
)

// Config configures the redis cache.
type Config struct {
	Addr string            `yaml:"addr"`
	DB   int               `yaml:"db"`
	TTL  duration.Duration `yaml:"ttl"` // default 24h
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{Addr: "localhost:6379", TTL: duration.Duration(24 * time.Hour)}
}

// CachedSource wraps an ActualSource with redis. Cache failures degrade to
// a direct source call; the cache is never allowed to break reconciliation.
type CachedSource struct {
	inner source.ActualSource
	rdb   *redis.Client
	ttl   time.Duration
}

// New creates a cached source around inner.
func New(inner source.ActualSource, cfg Config) *CachedSource {
	if cfg.TTL <= 0 {
		cfg.TTL = duration.Duration(24 * time.Hour)
	}
	return &CachedSource{
		inner: inner,
		rdb:   redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB}),
		ttl:   cfg.TTL.D(),
	}
}

// NewWithClient wraps an existing client (used by tests).
func NewWithClient(inner source.ActualSource, rdb *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(date time.Time, maxDriftDays int) string {
	return fmt.Sprintf("actual:%s:%d", date.Format("2006-01-02"), maxDriftDays)
}

// ValueOn resolves through the cache. Only found values are cached; a
// missing actual may appear later and must stay a cache miss.
func (c *CachedSource) ValueOn(ctx context.Context, date time.Time, maxDriftDays int) (float64, bool, error) {
	key := cacheKey(date, maxDriftDays)
	cached, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		v, parseErr := strconv.ParseFloat(cached, 64)
		if parseErr == nil {
			return v, true, nil
		}
		log.Warn().Str("key", key).Str("value", cached).Msg("unparseable cached actual, refetching")
	} else if err != redis.Nil {
		log.Debug().Err(err).Msg("actuals cache unavailable, hitting source directly")
	}

	v, found, err := c.inner.ValueOn(ctx, date, maxDriftDays)
	if err != nil || !found {
		return v, found, err
	}
	if setErr := c.rdb.Set(ctx, key, strconv.FormatFloat(v, 'g', -1, 64), c.ttl).Err(); setErr != nil {
		log.Debug().Err(setErr).Msg("failed to cache actual value")
	}
	return v, true, nil
}

// Close shuts down the redis client.
func (c *CachedSource) Close() error { return c.rdb.Close() }
