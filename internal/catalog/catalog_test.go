package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/liveview"
	"github.com/fjod/storefront/internal/retry"
	"github.com/fjod/storefront/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) retry.Policy {
	p := retry.DefaultPolicy()
	p.Attempts = attempts
	p.Initial = time.Millisecond
	p.Max = 5 * time.Millisecond
	return p
}

func setupCatalog(t *testing.T, opts ...Option) (*Catalog, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	opts = append([]Option{WithRetryPolicy(fastRetry(5))}, opts...)
	return New(mem, mem, nil, opts...), mem
}

func createProduct(t *testing.T, c *Catalog, stock int) domain.Product {
	p, err := c.CreateProduct(context.Background(), ProductInput{
		Name:  "Lamp",
		Price: decimal.NewFromInt(25),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func TestCatalog_CreateProduct_Validates(t *testing.T) {
	c, _ := setupCatalog(t)

	_, err := c.CreateProduct(context.Background(), ProductInput{Name: "", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	p := createProduct(t, c, 3)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, int64(1), p.Version)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestCatalog_UpsertRating_MeanFromEntries(t *testing.T) {
	c, _ := setupCatalog(t)
	ctx := context.Background()
	p := createProduct(t, c, 1)

	_, err := c.UpsertRating(ctx, p.ID, "a", 5)
	require.NoError(t, err)
	_, err = c.UpsertRating(ctx, p.ID, "b", 3)
	require.NoError(t, err)
	agg, err := c.UpsertRating(ctx, p.ID, "c", 4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, agg.Mean)

	agg, err = c.UpsertRating(ctx, p.ID, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Count)
	assert.InDelta(t, 2.67, agg.Mean, 0.01)
}

func TestCatalog_UpsertRating_Idempotent(t *testing.T) {
	c, mem := setupCatalog(t)
	ctx := context.Background()
	p := createProduct(t, c, 1)

	first, err := c.UpsertRating(ctx, p.ID, "a", 4)
	require.NoError(t, err)
	afterFirst, _ := mem.GetProduct(ctx, p.ID)

	second, err := c.UpsertRating(ctx, p.ID, "a", 4)
	require.NoError(t, err)
	afterSecond, _ := mem.GetProduct(ctx, p.ID)

	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst.Version, afterSecond.Version, "same value must not write")
}

func TestCatalog_UpsertRating_RejectsBadValues(t *testing.T) {
	c, _ := setupCatalog(t)
	p := createProduct(t, c, 1)

	_, err := c.UpsertRating(context.Background(), p.ID, "a", 6)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = c.UpsertRating(context.Background(), "missing", "a", 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_UpsertRating_ConcurrentUsersLoseNothing(t *testing.T) {
	// A generous budget so contention alone never exhausts it
	c, _ := setupCatalog(t, WithRetryPolicy(fastRetry(100)))
	ctx := context.Background()
	p := createProduct(t, c, 1)

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.UpsertRating(ctx, p.ID, fmt.Sprintf("user-%d", i), 1+i%5)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := c.products.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, users, final.Rating.Count)
	assert.Len(t, final.Ratings, users)
	assert.Equal(t, domain.ComputeRating(final.Ratings), final.Rating)
}

// alwaysStale loses every optimistic write
type alwaysStale struct {
	*store.MemoryStore
	mu       sync.Mutex
	attempts int
}

func (s *alwaysStale) ReplaceProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return domain.Product{}, domain.ErrStaleWrite
}

func TestCatalog_UpsertRating_ConflictAfterRetryBudget(t *testing.T) {
	mem := store.NewMemoryStore()
	stale := &alwaysStale{MemoryStore: mem}
	c := New(stale, mem, nil, WithRetryPolicy(fastRetry(5)))
	ctx := context.Background()
	require.NoError(t, mem.CreateProduct(ctx, domain.Product{ID: "p1", Name: "x"}))

	_, err := c.UpsertRating(ctx, "p1", "a", 3)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 5, stale.attempts)
}

func TestCatalog_AdjustStock(t *testing.T) {
	c, _ := setupCatalog(t)
	ctx := context.Background()
	p := createProduct(t, c, 2)

	stock, err := c.AdjustStock(ctx, p.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	_, err = c.AdjustStock(ctx, p.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestCatalog_UpdateProduct_KeepsRatings(t *testing.T) {
	c, _ := setupCatalog(t)
	ctx := context.Background()
	p := createProduct(t, c, 2)
	_, err := c.UpsertRating(ctx, p.ID, "a", 5)
	require.NoError(t, err)

	updated, err := c.UpdateProduct(ctx, p.ID, ProductInput{Name: "Desk lamp", Price: decimal.NewFromInt(30), Stock: 7})
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", updated.Name)
	assert.Equal(t, 7, updated.Stock)
	assert.Equal(t, 1, updated.Rating.Count)
	assert.Equal(t, p.CreatedAt, updated.CreatedAt)

	_, err = c.UpdateProduct(ctx, p.ID, ProductInput{Name: "Desk lamp", Price: decimal.NewFromInt(-3)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCatalog_DeleteProduct_SoftWhenInCart(t *testing.T) {
	c, mem := setupCatalog(t)
	ctx := context.Background()
	referenced := createProduct(t, c, 4)
	unreferenced := createProduct(t, c, 4)
	require.NoError(t, mem.InsertLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", ProductID: referenced.ID, Quantity: 1}))

	res, err := c.DeleteProduct(ctx, referenced.ID)
	require.NoError(t, err)
	assert.True(t, res.Soft)
	kept, err := mem.GetProduct(ctx, referenced.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, kept.Stock)

	res, err = c.DeleteProduct(ctx, unreferenced.ID)
	require.NoError(t, err)
	assert.False(t, res.Soft)
	_, err = mem.GetProduct(ctx, unreferenced.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_ListProducts_DefaultsToRandom(t *testing.T) {
	c, _ := setupCatalog(t)
	for i := 0; i < 3; i++ {
		createProduct(t, c, 1)
	}

	n := 0
	for _, err := range c.ListProducts(context.Background(), domain.ProductQuery{Text: "lamp"}) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)
}

func TestCatalog_GetProduct_ReadThroughAndInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	productCache := cache.NewRedisCache(client, time.Minute)

	hub := liveview.NewHub()
	defer hub.Close()
	mem := store.NewMemoryStore(store.WithObserver(hub.Publish))
	c := New(mem, mem, productCache, WithRetryPolicy(fastRetry(5)))
	ctx := context.Background()

	p := createProduct(t, c, 5)

	sub, err := hub.Subscribe(ctx, domain.CollectionProducts, liveview.Filter{})
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		c.InvalidateCache(sub)
		close(done)
	}()

	got, err := c.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)

	require.Eventually(t, func() bool { return mr.Exists("product:" + p.ID) }, time.Second, 10*time.Millisecond)

	_, err = c.AdjustStock(ctx, p.ID, -2)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !mr.Exists("product:" + p.ID) }, time.Second, 10*time.Millisecond)
	got, err = c.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	sub.Close()
	<-done
}

// gatedCache holds Get or Set at a gate until the test opens it
type gatedCache struct {
	cache.ProductCache
	getGate chan struct{}
	setGate chan struct{}
	entered chan struct{}
	setDone chan struct{}
	setOnce sync.Once

	mu        sync.Mutex
	cancelled bool
}

func (g *gatedCache) enter() {
	select {
	case g.entered <- struct{}{}:
	default:
	}
}

func (g *gatedCache) Get(ctx context.Context, id string) (*domain.Product, error) {
	if g.getGate != nil {
		g.enter()
		<-g.getGate
		if ctx.Err() != nil {
			g.mu.Lock()
			g.cancelled = true
			g.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	return g.ProductCache.Get(ctx, id)
}

func (g *gatedCache) Set(ctx context.Context, p *domain.Product) error {
	if g.setGate == nil {
		return g.ProductCache.Set(ctx, p)
	}
	g.enter()
	<-g.setGate
	err := g.ProductCache.Set(ctx, p)
	g.setOnce.Do(func() { close(g.setDone) })
	return err
}

func TestCatalog_GetProduct_LateFillDoesNotOutliveInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	gated := &gatedCache{
		ProductCache: cache.NewRedisCache(client, time.Minute),
		setGate:      make(chan struct{}),
		entered:      make(chan struct{}, 1),
		setDone:      make(chan struct{}),
	}

	hub := liveview.NewHub()
	defer hub.Close()
	mem := store.NewMemoryStore(store.WithObserver(hub.Publish))
	c := New(mem, mem, gated, WithRetryPolicy(fastRetry(5)))
	ctx := context.Background()
	p := createProduct(t, c, 5)

	sub, err := hub.Subscribe(ctx, domain.CollectionProducts, liveview.Filter{})
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		c.InvalidateCache(sub)
		close(done)
	}()

	got, err := c.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
	<-gated.entered // fill is parked before writing stock 5

	before := c.generation(p.ID)
	_, err = c.AdjustStock(ctx, p.ID, -5)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.generation(p.ID) > before }, time.Second, 10*time.Millisecond)

	close(gated.setGate)
	<-gated.setDone
	require.Eventually(t, func() bool { return !mr.Exists("product:" + p.ID) }, time.Second, 10*time.Millisecond)

	got, err = c.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)

	sub.Close()
	<-done
}

func TestCatalog_GetProduct_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	mem := store.NewMemoryStore()
	gated := &gatedCache{
		ProductCache: cache.NopCache{},
		getGate:      make(chan struct{}),
		entered:      make(chan struct{}, 2),
	}
	c := New(mem, mem, gated, WithRetryPolicy(fastRetry(5)))
	p := createProduct(t, c, 3)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetProduct(first, p.ID)
		firstErr <- err
	}()
	<-gated.entered

	type result struct {
		p   domain.Product
		err error
	}
	second := make(chan result, 1)
	go func() {
		got, err := c.GetProduct(context.Background(), p.ID)
		second <- result{got, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gated.getGate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.p.Stock)

	gated.mu.Lock()
	defer gated.mu.Unlock()
	assert.False(t, gated.cancelled)
}
