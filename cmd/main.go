package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/auth"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/history"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/store/mongostore"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "catalog, cart and order service",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment",
				Value: cli.NewStringSlice(".env"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create Mongo collections and indexes, apply order history migrations",
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "sign a development token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sub", Required: true},
					&cli.StringFlag{Name: "role", Value: string(domain.RoleUser)},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: issueToken,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.WithError(err).Fatal("storefront failed")
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return config.Config{}, err
	}
	logger.Setup(cfg.LogLevel, cfg.LogJSON)
	return cfg, nil
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	if cfg.Backend == "mongo" {
		db, err := mongostore.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return err
		}
		st := mongostore.New(db)
		defer st.Close(context.Background())
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		log.Info("mongo schema ensured")
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
	}
	return nil
}

func issueToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(c.String("role"))
	if err != nil {
		return err
	}
	tok, err := auth.IssueToken(cfg.JWTSecret, c.String("sub"), role, c.Duration("ttl"))
	if err != nil {
		return errors.Wrap(err, "failed to sign token")
	}
	fmt.Println(tok)
	return nil
}
