package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/example/realtime-hub/domain/hub"
)

// IdentityCache keeps resolved identities in Redis (cache-aside) so repeated
// handshakes from the same user skip the account lookup.
type IdentityCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  cacheStats
}

type cacheStats struct {
	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	errors  atomic.Uint64
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// NewIdentityCache creates a cache on an existing client.
func NewIdentityCache(client *redis.Client, prefix string, ttl time.Duration) *IdentityCache {
	return &IdentityCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached identity and whether it was found.
func (c *IdentityCache) Get(ctx context.Context, userID string) (*domain.Identity, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.stats.misses.Add(1)
			return nil, false, nil
		}
		c.stats.errors.Add(1)
		return nil, false, fmt.Errorf("cache get error: %w", err)
	}

	var id domain.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		c.stats.errors.Add(1)
		return nil, false, fmt.Errorf("cache unmarshal error: %w", err)
	}

	c.stats.hits.Add(1)
	return &id, true, nil
}

// Set stores an identity with the cache TTL.
func (c *IdentityCache) Set(ctx context.Context, id domain.Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+id.UserID, data, c.ttl).Err(); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache set error: %w", err)
	}
	c.stats.sets.Add(1)
	return nil
}

// Delete evicts a user's identity.
func (c *IdentityCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.prefix+userID).Err(); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache delete error: %w", err)
	}
	c.stats.deletes.Add(1)
	return nil
}

// Stats returns the current counters.
func (c *IdentityCache) Stats() CacheStats {
	hits := c.stats.hits.Load()
	misses := c.stats.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.stats.sets.Load(),
		Deletes: c.stats.deletes.Load(),
		Errors:  c.stats.errors.Load(),
		HitRate: hitRate,
	}
}

// Ping checks if the Redis connection is healthy.
func (c *IdentityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *IdentityCache) Close() error {
	return c.client.Close()
}
