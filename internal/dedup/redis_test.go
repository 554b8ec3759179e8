package dedup

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestRedisCheckpoints(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Del(ctx, checkpointHash("c")).Err())

	store := NewRedis(client)

	_, ok, err := store.Last(ctx, "c", "p")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Advance(ctx, "c", "p", 5))
	require.NoError(t, store.Advance(ctx, "c", "p", 2))

	// Checkpoints outlive the instance that wrote them.
	seq, ok, err := NewRedis(client).Last(ctx, "c", "p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), seq)

	require.NoError(t, store.Advance(ctx, "c", "p", 9))
	seq, _, err = store.Last(ctx, "c", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)
}
