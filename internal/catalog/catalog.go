package catalog

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/liveview"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/retry"
	"github.com/fjod/storefront/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// lineCounter is the part of the cart store the catalog needs to decide between hard and soft deletes
type lineCounter interface {
	CountLinesForProduct(ctx context.Context, productID string) (int, error)
}

// ProductInput carries the admin-editable product fields
type ProductInput struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Contact     string          `json:"contact"`
	Stock       int             `json:"stock"`
	Images      []string        `json:"images"`
}

// Catalog is the single source of truth for products, stock and rating aggregates
type Catalog struct {
	products store.ProductStore
	lines    lineCounter
	cache    cache.ProductCache
	sfg      singleflight.Group // Prevents cache stampede
	retry    retry.Policy
	now      func() time.Time

	genMu sync.Mutex
	gens  map[string]uint64 // bumped on every invalidation, guards late cache fills
}

// sharedReadTimeout bounds a read-through shared by every caller waiting on the same id
const sharedReadTimeout = 5 * time.Second

type Option func(*Catalog)

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Catalog) { c.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func New(products store.ProductStore, lines lineCounter, productCache cache.ProductCache, opts ...Option) *Catalog {
	if productCache == nil {
		productCache = cache.NopCache{}
	}
	c := &Catalog{
		products: products,
		lines:    lines,
		cache:    productCache,
		retry:    retry.DefaultPolicy(),
		now:      time.Now,
		gens:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetProduct reads through the cache. Stock-sensitive callers read the store directly.
func (c *Catalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ch := c.sfg.DoChan(id, func() (interface{}, error) {
		// Shared by all waiters, so one caller going away must not fail the rest
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()

		cached, err := c.cache.Get(sctx, id)
		if err == nil {
			return *cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.FromContext(ctx).WithError(err).Warn("product cache get failed")
		}

		gen := c.generation(id)
		p, err := c.products.GetProduct(sctx, id)
		if err != nil {
			return nil, err
		}
		go c.fill(p.Clone(), gen)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return domain.Product{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Product{}, res.Err
		}
		return res.Val.(domain.Product).Clone(), nil
	}
}

func (c *Catalog) generation(id string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gens[id]
}

// fill caches p unless the product was invalidated after p was read
func (c *Catalog) fill(p domain.Product, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	entry := log.WithField("product_id", p.ID)

	if c.generation(p.ID) != gen {
		return
	}
	if err := c.cache.Set(ctx, &p); err != nil {
		entry.WithError(err).Warn("product cache set failed")
		return
	}
	// An invalidation may have run its delete before our set landed
	if c.generation(p.ID) != gen {
		if err := c.cache.Delete(ctx, p.ID); err != nil {
			entry.WithError(err).Warn("product cache invalidation failed")
		}
	}
}

// invalidate bumps the product's generation before deleting so in-flight fills drop their copy
func (c *Catalog) invalidate(ctx context.Context, id string) {
	c.genMu.Lock()
	c.gens[id]++
	c.genMu.Unlock()
	if err := c.cache.Delete(ctx, id); err != nil {
		log.WithError(err).WithField("product_id", id).Warn("product cache invalidation failed")
	}
}

// ListProducts returns a lazy, restartable sequence of products matching q
func (c *Catalog) ListProducts(ctx context.Context, q domain.ProductQuery) iter.Seq2[domain.Product, error] {
	if q.Sort == "" {
		q.Sort = domain.SortRandom
	}
	return c.products.ListProducts(ctx, q)
}

// AdjustStock applies delta atomically; stock never drops below zero
func (c *Catalog) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	stock, err := c.products.AdjustStock(ctx, id, delta)
	if err != nil {
		return stock, err
	}
	logger.FromContext(ctx).WithFields(log.Fields{
		"product_id": id,
		"delta":      delta,
		"stock":      stock,
	}).Info("stock adjusted")
	return stock, nil
}

// UpsertRating replaces userID's rating and recomputes the mean from all entries.
// Lost races are retried from a fresh read.
func (c *Catalog) UpsertRating(ctx context.Context, id, userID string, value int) (domain.RatingAggregate, error) {
	if err := domain.ValidateRating(value); err != nil {
		return domain.RatingAggregate{}, err
	}

	var agg domain.RatingAggregate
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		p, err := c.products.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if !p.SetRating(userID, value) {
			agg = p.Rating
			return nil
		}
		updated, err := c.products.ReplaceProduct(ctx, p)
		if err != nil {
			return err
		}
		agg = updated.Rating
		return nil
	})
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	return agg, nil
}

func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput) (domain.Product, error) {
	now := c.now()
	p := domain.Product{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Price:       in.Price,
		Description: in.Description,
		Contact:     in.Contact,
		Stock:       in.Stock,
		Images:      append([]string(nil), in.Images...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	if err := c.products.CreateProduct(ctx, p); err != nil {
		return domain.Product{}, err
	}

	logger.FromContext(ctx).WithField("product_id", p.ID).Info("product created")
	return c.products.GetProduct(ctx, p.ID)
}

// UpdateProduct overwrites the editable fields, keeping ratings and creation time
func (c *Catalog) UpdateProduct(ctx context.Context, id string, in ProductInput) (domain.Product, error) {
	var updated domain.Product
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		p, err := c.products.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		p.Name = in.Name
		p.Price = in.Price
		p.Description = in.Description
		p.Contact = in.Contact
		p.Stock = in.Stock
		p.Images = append([]string(nil), in.Images...)
		if err := p.Validate(); err != nil {
			return err
		}
		updated, err = c.products.ReplaceProduct(ctx, p)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// DeleteResult tells the caller whether the product was only marked unavailable
type DeleteResult struct {
	Soft bool `json:"soft"`
}

// DeleteProduct hard-deletes unreferenced products. Products still sitting in someone's cart
// are kept with stock 0 so the lines get evicted on the owners' next read.
func (c *Catalog) DeleteProduct(ctx context.Context, id string) (DeleteResult, error) {
	refs, err := c.lines.CountLinesForProduct(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}

	if refs == 0 {
		if err := c.products.DeleteProduct(ctx, id); err != nil {
			return DeleteResult{}, err
		}
		logger.FromContext(ctx).WithField("product_id", id).Info("product deleted")
		return DeleteResult{}, nil
	}

	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		p, err := c.products.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if p.Stock == 0 {
			return nil
		}
		p.Stock = 0
		_, err = c.products.ReplaceProduct(ctx, p)
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}

	logger.FromContext(ctx).WithFields(log.Fields{
		"product_id": id,
		"cart_lines": refs,
	}).Info("product referenced by carts, marked unavailable")
	return DeleteResult{Soft: true}, nil
}

// InvalidateCache drops cached products as the change feed reports them.
// It returns when the subscription ends.
func (c *Catalog) InvalidateCache(sub *liveview.Subscription) {
	for ev := range sub.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		c.invalidate(ctx, ev.EntityID)
		cancel()
	}
}
