package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultAccessTierTTL bounds how long a computed tier is served from cache.
const DefaultAccessTierTTL = 10 * time.Minute

// AccessTierKey is the cache key holding a user's computed access tier.
func AccessTierKey(userID uint) string {
	return fmt.Sprintf("access_tier:%d", userID)
}

// AccessTierCache stores computed access tiers per user.
type AccessTierCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAccessTierCache wraps client. A non-positive ttl uses DefaultAccessTierTTL.
func NewAccessTierCache(client *redis.Client, ttl time.Duration) *AccessTierCache {
	if ttl <= 0 {
		ttl = DefaultAccessTierTTL
	}
	return &AccessTierCache{client: client, ttl: ttl}
}

// Get returns the cached tier and whether one was present.
func (c *AccessTierCache) Get(ctx context.Context, userID uint) (string, bool, error) {
	v, err := c.client.Get(ctx, AccessTierKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set caches tier for at most maxAge, capped by the cache TTL.
// A non-positive maxAge means the cache TTL.
func (c *AccessTierCache) Set(ctx context.Context, userID uint, tier string, maxAge time.Duration) error {
	ttl := c.ttl
	if maxAge > 0 && maxAge < ttl {
		ttl = maxAge
	}
	return c.client.Set(ctx, AccessTierKey(userID), tier, ttl).Err()
}

// InvalidateAccessTier drops the cached tier so the next read recomputes it.
func (c *AccessTierCache) InvalidateAccessTier(ctx context.Context, userID uint) error {
	return c.client.Del(ctx, AccessTierKey(userID)).Err()
}
