package cache

import (
	"context"
	"errors"
	"time"

	"grocerstock/backend/internal/domain"
)

// ErrMiss is returned when the catalog is not in the cache.
var ErrMiss = errors.New("cache: miss")

// ProductCache fronts the product catalog read path. Implementations must be
// safe for concurrent use.
type ProductCache interface {
	GetCatalog(ctx context.Context) ([]domain.Product, error)
	SetCatalog(ctx context.Context, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context) error
	Close() error
}

// NoopProductCache always misses. Used when no Redis address is configured.
type NoopProductCache struct{}

func (NoopProductCache) GetCatalog(context.Context) ([]domain.Product, error) {
	return nil, ErrMiss
}

func (NoopProductCache) SetCatalog(context.Context, []domain.Product, time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(context.Context) error { return nil }

func (NoopProductCache) Close() error { return nil }
