package cartsdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cartsaga/internal/cart"
)

// RedisClient is the minimal client surface used by RedisRepository.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisRepository stores each cart as a JSON string under cart:<id>.
type RedisRepository struct {
	client    RedisClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisRepository constructs a Redis-backed cart repository. A zero ttl
// keeps records forever.
func NewRedisRepository(client RedisClient, ttl time.Duration) *RedisRepository {
	return &RedisRepository{
		client:    client,
		keyPrefix: "cart:",
		ttl:       ttl,
	}
}

func (r *RedisRepository) key(cartID int64) string {
	return r.keyPrefix + strconv.FormatInt(cartID, 10)
}

// Load returns the stored items of cartID. A missing key is an empty cart.
func (r *RedisRepository) Load(ctx context.Context, cartID int64) ([]cart.LineItem, error) {
	raw, err := r.client.Get(ctx, r.key(cartID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []cart.LineItem{}, nil
		}
		return nil, fmt.Errorf("load cart %d: %w", cartID, err)
	}
	return decodeItems(cartID, raw)
}

// Save overwrites the record of cartID and refreshes its ttl.
func (r *RedisRepository) Save(ctx context.Context, cartID int64, items []cart.LineItem) error {
	payload, err := encodeItems(items)
	if err != nil {
		return fmt.Errorf("save cart %d: %w", cartID, err)
	}
	if err := r.client.Set(ctx, r.key(cartID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("save cart %d: %w", cartID, err)
	}
	return nil
}
