package main

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/auth"
	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/history"
	api "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/liveview"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/rating"
	"github.com/fjod/storefront/internal/retry"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/internal/store/mongostore"
	"github.com/fjod/storefront/internal/users"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(c.Context)

	hub := liveview.NewHub()
	defer hub.Close()

	st, err := openStore(ctx, g, cfg, hub)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.WithError(err).Warn("failed to close store")
		}
	}()

	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.RetryAttempts

	var productCache cache.ProductCache
	var debouncer rating.Debouncer
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis connection failed")
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis ping succeeded")
		productCache = cache.NewRedisCache(redisClient, cfg.CacheTTL)
		debouncer = rating.NewRedisDebouncer(redisClient, cfg.RatingDebounce)
	} else {
		mem := rating.NewMemoryDebouncer(cfg.RatingDebounce)
		defer mem.Close()
		debouncer = mem
	}

	cat := catalog.New(st, st, productCache, catalog.WithRetryPolicy(policy))
	if productCache != nil {
		sub, err := hub.Subscribe(ctx, domain.CollectionProducts, liveview.Filter{})
		if err != nil {
			return err
		}
		go cat.InvalidateCache(sub)
	}

	gateway := payment.NewBreakerGateway(
		payment.NewSimulatedGateway(cfg.PaymentFailureRate),
		payment.DefaultBreakerSettings(),
	)
	userSvc := users.NewService(st)
	svc := api.Services{
		Catalog: cat,
		Cart:    cart.NewManager(st, st),
		Checkout: checkout.NewOrchestrator(st, st, st, st, gateway,
			checkout.WithRetryPolicy(policy),
			checkout.WithCancelWindow(cfg.CancelWindow),
		),
		Ratings: rating.NewAggregator(cat, debouncer),
		Users:   userSvc,
		Live:    hub,
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := outbox.NewPublisher(st, cfg.KafkaTopic, cfg.OutboxPollInterval, cfg.KafkaBrokers...)
		defer publisher.Close()
		g.Go(func() error {
			publisher.Run(ctx)
			return nil
		})
		log.WithField("topic", cfg.KafkaTopic).Info("outbox publisher started")
	}

	if cfg.PostgresDSN != "" {
		repo, err := history.NewRepository(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.RunMigrations(); err != nil {
			return err
		}
		svc.History = repo

		if len(cfg.KafkaBrokers) > 0 {
			consumer := history.NewConsumer(repo, cfg.KafkaTopic, cfg.KafkaGroupID, cfg.KafkaBrokers...)
			defer consumer.Close()
			g.Go(func() error {
				consumer.Run(ctx)
				return nil
			})
			log.WithField("group_id", cfg.KafkaGroupID).Info("order history consumer started")
		}
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(svc, auth.NewAuthenticator(cfg.JWTSecret, userSvc), cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("storefront listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server error")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Live streams only end once the hub closes them
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("server exited")
	return err
}

// openStore connects the configured backend and feeds its changes to the hub
func openStore(ctx context.Context, g *errgroup.Group, cfg config.Config, hub *liveview.Hub) (store.Store, error) {
	if cfg.Backend == "memory" {
		log.Info("using in-memory store")
		return store.NewMemoryStore(store.WithObserver(hub.Publish)), nil
	}

	db, err := mongostore.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, err
	}
	st := mongostore.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	log.WithField("database", cfg.MongoDBName).Info("connected to mongo")

	watcher := mongostore.NewWatcher(db, hub.Publish)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	return st, nil
}
