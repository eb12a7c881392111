package cache

import (
	"context"
	"fmt"
	"time"
)

const catalogueKey = "catalogue:quotes"

// CatalogueCache keeps the quoted storefront listing in Redis between
// requests. Quotes drift with the clock, so the TTL stays short and the
// cache is dropped whenever the product set changes.
type CatalogueCache struct {
	redis *Redis
	ttl   time.Duration
}

// NewCatalogueCache wraps the Redis client as a listing cache with the
// given TTL.
func NewCatalogueCache(r *Redis, ttl time.Duration) *CatalogueCache {
	return &CatalogueCache{redis: r, ttl: ttl}
}

// Get loads the cached listing into dest. The bool is false on a miss.
func (c *CatalogueCache) Get(ctx context.Context, dest any) (bool, error) {
	return c.redis.GetJSON(ctx, catalogueKey, dest)
}

// Set stores the quoted listing until the TTL expires or Invalidate runs.
func (c *CatalogueCache) Set(ctx context.Context, v any) error {
	return c.redis.SetJSON(ctx, catalogueKey, v, c.ttl)
}

// Invalidate drops the cached listing.
func (c *CatalogueCache) Invalidate(ctx context.Context) error {
	if err := c.redis.Client().Del(ctx, catalogueKey).Err(); err != nil {
		return fmt.Errorf("drop catalogue cache: %w", err)
	}
	return nil
}
