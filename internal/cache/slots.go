package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotsCache keeps short-lived copies of slot listings. Listings are advisory
// anyway, so a bounded TTL is acceptable; booking writes bump a per-provider
// version so stale keys die immediately instead of waiting out the TTL.
type SlotsCache struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

func NewSlotsCache(rdb *redis.Client, logger *slog.Logger, ttl time.Duration) *SlotsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotsCache{rdb: rdb, logger: logger, ttl: ttl}
}

// Get returns the cached listing for the query, or ok=false on miss or any
// Redis failure. The cache always fails open; availability reads never depend
// on Redis being up.
func (c *SlotsCache) Get(ctx context.Context, providerID, query string) ([]byte, bool) {
	key, err := c.key(ctx, providerID, query)
	if err != nil {
		c.warn(err)
		return nil, false
	}
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(err)
		}
		return nil, false
	}
	return payload, true
}

func (c *SlotsCache) Set(ctx context.Context, providerID, query string, payload []byte) {
	key, err := c.key(ctx, providerID, query)
	if err != nil {
		c.warn(err)
		return
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.warn(err)
	}
}

// Invalidate bumps the provider's version counter. Every key minted under the
// old version becomes unreachable and expires on its own TTL.
func (c *SlotsCache) Invalidate(ctx context.Context, providerID string) {
	if err := c.rdb.Incr(ctx, versionKey(providerID)).Err(); err != nil {
		c.warn(err)
	}
}

func (c *SlotsCache) key(ctx context.Context, providerID, query string) (string, error) {
	version, err := c.rdb.Get(ctx, versionKey(providerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("slots:%s:v%d:%s", providerID, version, query), nil
}

func versionKey(providerID string) string {
	return "slots_version:" + providerID
}

func (c *SlotsCache) warn(err error) {
	if c.logger != nil {
		c.logger.Warn("slots cache unavailable", "err", err)
	}
}
