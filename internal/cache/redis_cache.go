package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"grocerstock/backend/internal/domain"
)

const catalogKey = "grocerstock:catalog:v1"

// RedisProductCache stores the full product catalog as one JSON blob. The
// catalog is small (hundreds of documents) and is always read whole, so a
// single key beats per-product keys here.
type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(ctx context.Context, addr string, password string, db int) (*RedisProductCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisProductCache{client: client}, nil
}

func (c *RedisProductCache) GetCatalog(ctx context.Context) ([]domain.Product, error) {
	raw, err := c.client.Get(ctx, catalogKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog: %w", err)
	}

	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		// A corrupt entry behaves as a miss; the next Set overwrites it.
		return nil, ErrMiss
	}
	return products, nil
}

func (c *RedisProductCache) SetCatalog(ctx context.Context, products []domain.Product, ttl time.Duration) error {
	raw, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := c.client.Set(ctx, catalogKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set catalog: %w", err)
	}
	return nil
}

func (c *RedisProductCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, catalogKey).Err(); err != nil {
		return fmt.Errorf("invalidate catalog: %w", err)
	}
	return nil
}

func (c *RedisProductCache) Close() error {
	return c.client.Close()
}
