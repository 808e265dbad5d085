package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisSnapshot_SaveAndTake(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisSnapshotStore(client, time.Minute)
	client.Del(ctx, "cart:test-client")

	items := []domain.Item{{ProductID: "1", Quantity: 2}, {ProductID: "7", Quantity: 1}}
	require.NoError(t, store.Save(ctx, "test-client", items))

	ttl := client.PTTL(ctx, "cart:test-client").Val()
	assert.True(t, ttl > 0 && ttl <= time.Minute, "unexpected ttl %v", ttl)

	got, err := store.Take(ctx, "test-client")
	require.NoError(t, err)
	assert.Equal(t, items, got)

	// Take consumes the snapshot
	got, err = store.Take(ctx, "test-client")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSnapshot_EmptySaveClears(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisSnapshotStore(client, time.Minute)

	require.NoError(t, store.Save(ctx, "test-client", []domain.Item{{ProductID: "1", Quantity: 1}}))
	require.NoError(t, store.Save(ctx, "test-client", nil))

	exists := client.Exists(ctx, "cart:test-client").Val()
	assert.Equal(t, int64(0), exists)
}

func TestRedisSnapshot_Delete(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisSnapshotStore(client, time.Minute)

	require.NoError(t, store.Save(ctx, "test-client", []domain.Item{{ProductID: "1", Quantity: 1}}))
	require.NoError(t, store.Delete(ctx, "test-client"))

	got, err := store.Take(ctx, "test-client")
	require.NoError(t, err)
	assert.Nil(t, got)
}
