//go:build integration

package query

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformredis "retrace/internal/platform/redis"
	"retrace/pkg/testutil/containers"
)

func newIntegrationCache(t *testing.T) *Cache {
	t.Helper()

	rc := containers.NewRedisContainer(t)
	client, err := platformredis.New(rc.Addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCache(client, time.Minute, slog.New(slog.DiscardHandler))
	require.NotNil(t, cache)
	return cache
}

func TestCacheStateRoundTrip(t *testing.T) {
	cache := newIntegrationCache(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	_, ok := cache.GetState(ctx, "Customer", "1", at)
	assert.False(t, ok, "cold cache misses")

	state := map[string]any{"name": "B", "email": "a@x.com"}
	cache.PutState(ctx, "Customer", "1", at, state)

	got, ok := cache.GetState(ctx, "Customer", "1", at)
	require.True(t, ok)
	assert.Equal(t, state, got)
}

func TestCacheKeysAreScopedPerEntityAndInstant(t *testing.T) {
	cache := newIntegrationCache(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	cache.PutState(ctx, "Customer", "1", at, map[string]any{"name": "A"})

	_, ok := cache.GetState(ctx, "Customer", "2", at)
	assert.False(t, ok)

	_, ok = cache.GetState(ctx, "Customer", "1", at.Add(time.Second))
	assert.False(t, ok)
}

func TestInvalidateRotatesGeneration(t *testing.T) {
	cache := newIntegrationCache(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	cache.PutState(ctx, "Customer", "1", at, map[string]any{"name": "A"})
	cache.PutState(ctx, "Order", "9", at, map[string]any{"total": 10})

	cache.Invalidate(ctx, "Customer", "1")

	_, ok := cache.GetState(ctx, "Customer", "1", at)
	assert.False(t, ok, "new generation no longer addresses the old state")

	_, ok = cache.GetState(ctx, "Order", "9", at)
	assert.True(t, ok, "other entities keep their cached states")

	// A fresh write under the new generation is served again.
	cache.PutState(ctx, "Customer", "1", at, map[string]any{"name": "B"})
	got, ok := cache.GetState(ctx, "Customer", "1", at)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "B"}, got)
}
