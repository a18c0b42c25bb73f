package mongostore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestDB(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}
	ctx := context.Background()

	// Transactions and change streams need a replica set
	mongoContainer, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	s := New(db)
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

func seedProduct(t *testing.T, s *Store, id string, stock int) {
	require.NoError(t, s.CreateProduct(context.Background(), domain.Product{
		ID:        id,
		Name:      "product " + id,
		Price:     decimal.RequireFromString("10.00"),
		Stock:     stock,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestMongoStore_Integration(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	t.Run("replace checks version", func(t *testing.T) {
		seedProduct(t, s, "v1", 3)
		p, err := s.GetProduct(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.Version)

		p.Name = "renamed"
		updated, err := s.ReplaceProduct(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)

		_, err = s.ReplaceProduct(ctx, p)
		assert.ErrorIs(t, err, domain.ErrStaleWrite)

		_, err = s.ReplaceProduct(ctx, domain.Product{ID: "missing", Version: 1})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("concurrent decrements never go negative", func(t *testing.T) {
		seedProduct(t, s, "c1", 5)
		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.AdjustStock(ctx, "c1", -1); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, domain.ErrInsufficientStock)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 5, ok)
		p, _ := s.GetProduct(ctx, "c1")
		assert.Equal(t, 0, p.Stock)
	})

	t.Run("cart line unique per user and product", func(t *testing.T) {
		require.NoError(t, s.InsertLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", ProductID: "p1", Quantity: 1}))
		err := s.InsertLine(ctx, domain.CartLine{ID: "l2", UserID: "u1", ProductID: "p1", Quantity: 1})
		assert.ErrorIs(t, err, domain.ErrAlreadyInCart)

		n, err := s.CountLinesForProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("place order is atomic", func(t *testing.T) {
		seedProduct(t, s, "o-a", 5)
		seedProduct(t, s, "o-b", 1)
		lines := []domain.CartLine{
			{ID: "ol1", UserID: "buyer", ProductID: "o-a", Quantity: 2},
			{ID: "ol2", UserID: "buyer", ProductID: "o-b", Quantity: 2},
		}
		for _, l := range lines {
			require.NoError(t, s.InsertLine(ctx, l))
		}
		order := domain.Order{
			ID:     "order-1",
			UserID: "buyer",
			Lines: []domain.OrderLine{
				{ProductID: "o-a", Quantity: 2, UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(20)},
				{ProductID: "o-b", Quantity: 2, UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(20)},
			},
			Total:     decimal.NewFromInt(40),
			CreatedAt: time.Now().UTC(),
		}

		err := s.PlaceOrder(ctx, order, lines, domain.OutboxEvent{ID: "evt-1", OrderID: "order-1", CreatedAt: time.Now()})
		var stockErr *domain.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, "o-b", stockErr.ProductID)

		a, _ := s.GetProduct(ctx, "o-a")
		assert.Equal(t, 5, a.Stock)
		remaining, _ := s.ListLines(ctx, "buyer")
		assert.Len(t, remaining, 2)
		_, err = s.GetOrder(ctx, "order-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = s.AdjustStock(ctx, "o-b", 1)
		require.NoError(t, err)
		require.NoError(t, s.PlaceOrder(ctx, order, lines, domain.OutboxEvent{ID: "evt-1", OrderID: "order-1", CreatedAt: time.Now()}))

		a, _ = s.GetProduct(ctx, "o-a")
		assert.Equal(t, 3, a.Stock)
		remaining, _ = s.ListLines(ctx, "buyer")
		assert.Empty(t, remaining)
		stored, err := s.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(40).Equal(stored.Total))

		events, err := s.FetchUnpublished(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.NoError(t, s.MarkPublished(ctx, []string{events[0].ID}))
		events, _ = s.FetchUnpublished(ctx, 10)
		assert.Empty(t, events)
	})

	t.Run("stale cart line aborts commit", func(t *testing.T) {
		seedProduct(t, s, "s1", 5)
		line := domain.CartLine{ID: "sl1", UserID: "stale", ProductID: "s1", Quantity: 1}
		require.NoError(t, s.InsertLine(ctx, line))
		_, err := s.UpdateQuantity(ctx, "sl1", 2)
		require.NoError(t, err)

		order := domain.Order{ID: "order-stale", UserID: "stale", Lines: []domain.OrderLine{{ProductID: "s1", Quantity: 1}}}
		err = s.PlaceOrder(ctx, order, []domain.CartLine{line}, domain.OutboxEvent{ID: "evt-stale"})
		assert.ErrorIs(t, err, domain.ErrStaleWrite)
		p, _ := s.GetProduct(ctx, "s1")
		assert.Equal(t, 5, p.Stock)
	})

	t.Run("display names are unique", func(t *testing.T) {
		_, err := s.EnsureUser(ctx, domain.User{ID: "n1", Role: domain.RoleUser})
		require.NoError(t, err)
		_, err = s.EnsureUser(ctx, domain.User{ID: "n2", Role: domain.RoleUser})
		require.NoError(t, err)

		_, err = s.SetDisplayName(ctx, "n1", "alice")
		require.NoError(t, err)
		_, err = s.SetDisplayName(ctx, "n2", "alice")
		assert.ErrorIs(t, err, domain.ErrDisplayNameTaken)

		again, err := s.EnsureUser(ctx, domain.User{ID: "n1", Role: domain.RoleAdmin})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleUser, again.Role)
		assert.Equal(t, "alice", again.DisplayName)
	})

	t.Run("list products filters and sorts", func(t *testing.T) {
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, price := range []string{"30", "10", "20"} {
			require.NoError(t, s.CreateProduct(ctx, domain.Product{
				ID:          "lp" + price,
				Name:        "Shelf " + price,
				Description: "Walnut shelving",
				Price:       decimal.RequireFromString(price),
				CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			}))
		}
		collect := func(q domain.ProductQuery) []string {
			var ids []string
			for p, err := range s.ListProducts(ctx, q) {
				require.NoError(t, err)
				ids = append(ids, p.ID)
			}
			return ids
		}

		assert.Equal(t, []string{"lp20", "lp10", "lp30"}, collect(domain.ProductQuery{Text: "WALNUT", Sort: domain.SortNewest}))
		assert.Equal(t, []string{"lp10", "lp20", "lp30"}, collect(domain.ProductQuery{Text: "shelf", Sort: domain.SortPriceAsc}))
		assert.Equal(t, []string{"lp30", "lp20", "lp10"}, collect(domain.ProductQuery{Text: "shelf", Sort: domain.SortPriceDesc}))
		assert.ElementsMatch(t, []string{"lp10", "lp20", "lp30"}, collect(domain.ProductQuery{Text: "walnut"}))
	})
}

func TestMongoWatcher_PublishesChanges(t *testing.T) {
	s := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []domain.ChangeEvent
	w := NewWatcher(s.db, func(ev domain.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the stream a moment to open before writing
	require.Eventually(t, func() bool {
		_ = s.CreateProduct(context.Background(), domain.Product{
			ID:    "w-" + time.Now().Format("150405.000000"),
			Name:  "watched",
			Price: decimal.NewFromInt(1),
		})
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 20*time.Second, 200*time.Millisecond)

	require.NoError(t, s.InsertLine(context.Background(), domain.CartLine{ID: "wl1", UserID: "watcher", ProductID: "x", Quantity: 1}))
	require.NoError(t, s.DeleteLine(context.Background(), "wl1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Collection == domain.CollectionCarts && ev.Kind == domain.ChangeRemoved {
				return ev.UserID == "watcher"
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
