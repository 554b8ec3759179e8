package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisCheckpointPrefix = "warehouse:event_checkpoint:"

// advanceScript moves the checkpoint forward only, like GREATEST in Postgres.
var advanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur == false or tonumber(ARGV[2]) > tonumber(cur) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// Redis stores checkpoints in one hash per consumer, keyed by partition.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func checkpointHash(consumerName string) string {
	return redisCheckpointPrefix + consumerName
}

func (r *Redis) Last(ctx context.Context, consumerName, partitionKey string) (int64, bool, error) {
	last, err := r.client.HGet(ctx, checkpointHash(consumerName), partitionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return last, true, nil
}

func (r *Redis) Advance(ctx context.Context, consumerName, partitionKey string, newSeq int64) error {
	if err := advanceScript.Run(ctx, r.client, []string{checkpointHash(consumerName)}, partitionKey, newSeq).Err(); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
