package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisSequenceKey = "warehouse:event_sequence"

// Redis keeps the last sequence per partition as a field of one hash, so
// numbering survives restarts of a Redis-backed deployment.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Next(ctx context.Context, partitionKey string) (int64, error) {
	seq, err := r.client.HIncrBy(ctx, redisSequenceKey, partitionKey, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", partitionKey, err)
	}
	return seq, nil
}
