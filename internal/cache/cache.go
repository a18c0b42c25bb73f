package cache

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
)

// ProductCache holds read-through copies of catalog products. It is never the source of truth:
// entries are dropped whenever the change feed reports the product.
type ProductCache interface {
	Get(ctx context.Context, productID string) (*domain.Product, error)
	Set(ctx context.Context, product *domain.Product) error
	Delete(ctx context.Context, productID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache always misses; used when no Redis is configured
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.Product, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, *domain.Product) error           { return nil }
func (NopCache) Delete(context.Context, string) error                 { return nil }
