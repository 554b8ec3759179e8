package warehouse

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	productKeyPrefix = "warehouse:product:"
	productIDsKey    = "warehouse:products"
	productSeqKey    = "warehouse:product:next_id"
)

// updateQuantitiesScript writes both quantities only if the product hash exists.
var updateQuantitiesScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then
	return 0
end

redis.call('HSET', key, 'in_stock_quantity', ARGV[1], 'reserved_quantity', ARGV[2])
return 1
`)

// RedisStore keeps each product in a hash and the id index in a sorted set.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func productKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

func (s *RedisStore) Get(ctx context.Context, id int64) (Product, error) {
	fields, err := s.client.HGetAll(ctx, productKey(id)).Result()
	if err != nil {
		return Product{}, fmt.Errorf("hgetall product %d: %w", id, err)
	}
	if len(fields) == 0 {
		return Product{}, ErrNotFound
	}
	return decodeProductHash(id, fields)
}

func (s *RedisStore) List(ctx context.Context) ([]Product, error) {
	ids, err := s.client.ZRange(ctx, productIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange products: %w", err)
	}
	if len(ids) == 0 {
		return []Product{}, nil
	}

	parsed := make([]int64, len(ids))
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, raw := range ids {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("parse product id %q: %w", raw, err)
			}
			parsed[i] = id
			cmds[i] = pipe.HGetAll(ctx, productKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline products: %w", err)
	}

	out := make([]Product, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := decodeProductHash(parsed[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) Query(ctx context.Context, pred Predicate) ([]Product, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return filter(all, pred), nil
}

func (s *RedisStore) Insert(ctx context.Context, p Product) (Product, error) {
	id, err := s.client.Incr(ctx, productSeqKey).Result()
	if err != nil {
		return Product{}, fmt.Errorf("allocate product id: %w", err)
	}
	p.ID = id

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, productKey(id),
			"name", p.Name,
			"in_stock_quantity", p.InStockQuantity,
			"reserved_quantity", p.ReservedQuantity,
		)
		pipe.ZAdd(ctx, productIDsKey, redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (s *RedisStore) UpdateQuantities(ctx context.Context, p Product) error {
	res, err := updateQuantitiesScript.Run(ctx, s.client, []string{productKey(p.ID)}, p.InStockQuantity, p.ReservedQuantity).Int()
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeProductHash(id int64, fields map[string]string) (Product, error) {
	inStock, err := strconv.Atoi(fields["in_stock_quantity"])
	if err != nil {
		return Product{}, fmt.Errorf("product %d in_stock_quantity: %w", id, err)
	}
	reserved, err := strconv.Atoi(fields["reserved_quantity"])
	if err != nil {
		return Product{}, fmt.Errorf("product %d reserved_quantity: %w", id, err)
	}
	return Product{
		ID:               id,
		Name:             fields["name"],
		InStockQuantity:  inStock,
		ReservedQuantity: reserved,
	}, nil
}
