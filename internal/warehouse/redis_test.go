package warehouse

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

func resetRedis(t *testing.T, client *redis.Client) {
	t.Helper()
	ctx := context.Background()
	keys, err := client.Keys(ctx, productKeyPrefix+"*").Result()
	require.NoError(t, err)
	keys = append(keys, productIDsKey, productSeqKey)
	require.NoError(t, client.Del(ctx, keys...).Err())
}

func TestRedisStore(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	resetRedis(t, client)

	ctx := context.Background()
	store := NewRedisStore(client)

	_, err := store.Get(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)

	a, err := store.Insert(ctx, Product{Name: "anvil", InStockQuantity: 3})
	require.NoError(t, err)
	b, err := store.Insert(ctx, Product{Name: "bucket", InStockQuantity: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)

	require.NoError(t, store.UpdateQuantities(ctx, Product{ID: a.ID, InStockQuantity: 5, ReservedQuantity: 2}))
	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Product{ID: 1, Name: "anvil", InStockQuantity: 5, ReservedQuantity: 2}, got)

	require.ErrorIs(t, store.UpdateQuantities(ctx, Product{ID: 42}), ErrNotFound)
	exists, err := client.Exists(ctx, productKey(42)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Product{got, b}, all)

	inStock, err := store.Query(ctx, InStock)
	require.NoError(t, err)
	assert.Len(t, inStock, 2)
}

func TestServiceOverRedisStore(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	resetRedis(t, client)

	ctx := context.Background()
	svc := NewService(NewRedisStore(client), nil, nil)

	first, err := svc.InsertProduct(ctx, Product{Name: "Widget", InStockQuantity: 10})
	require.NoError(t, err)
	second, err := svc.InsertProduct(ctx, Product{Name: "Widget", InStockQuantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "Widget(1)", second.Product.Name)

	out, err := svc.OrderItem(ctx, first.Product, 6)
	require.NoError(t, err)
	require.True(t, out.OK())
	out, err = svc.OrderItem(ctx, first.Product, 6)
	require.NoError(t, err)
	assert.Equal(t, NotEnoughQuantity, out.Reason)
}
