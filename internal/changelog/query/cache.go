package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	platformredis "retrace/internal/platform/redis"
)

// Cache keeps recent point-in-time reconstructions in Redis. Each entity has a
// generation counter bumped on every write; the generation is part of the
// state key, so stale reconstructions simply stop being addressed instead of
// requiring key scans on invalidation.
type Cache struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps the Redis client. Returns nil when the client is nil (cache
// not configured); callers treat a nil *Cache as cache-off.
func NewCache(client *platformredis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Invalidate bumps the entity's generation. Cache errors are logged and
// ignored: the cache is an optimization, never a correctness dependency.
func (c *Cache) Invalidate(ctx context.Context, entityType, entityID string) {
	if err := c.client.Incr(ctx, genKey(entityType, entityID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache invalidation failed", "error", err)
	}
}

// GetState returns a cached reconstruction, if present.
func (c *Cache) GetState(ctx context.Context, entityType, entityID string, at time.Time) (map[string]any, bool) {
	raw, err := c.client.Get(ctx, c.stateKey(ctx, entityType, entityID, at)).Bytes()
	if err != nil {
		return nil, false
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false
	}
	return state, true
}

// PutState caches a reconstruction with the configured TTL.
func (c *Cache) PutState(ctx context.Context, entityType, entityID string, at time.Time, state map[string]any) {
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	key := c.stateKey(ctx, entityType, entityID, at)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "error", err)
	}
}

func (c *Cache) stateKey(ctx context.Context, entityType, entityID string, at time.Time) string {
	gen, err := c.client.Get(ctx, genKey(entityType, entityID)).Result()
	if err != nil {
		gen = "0"
	}
	return fmt.Sprintf("retrace:recon:%s:%s:%s:%d", gen, entityType, entityID, at.UnixNano())
}

func genKey(entityType, entityID string) string {
	return "retrace:gen:" + entityType + ":" + entityID
}
