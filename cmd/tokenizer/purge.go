package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gourdian25/tokenizer"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var purgeCommand = &cli.Command{
	Name:  "purge",
	Usage: "Purge revoked and / or expired tokens",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "revoked",
			Aliases: []string{"r"},
			Usage:   "Only purge revoked tokens",
		},
		&cli.BoolFlag{
			Name:    "expired",
			Aliases: []string{"e"},
			Usage:   "Only purge expired tokens",
		},
		&cli.IntFlag{
			Name:    "hours",
			Aliases: []string{"t"},
			Usage:   "The number of hours to retain expired tokens",
			Value:   tokenizer.DefaultPurgeHours,
		},
		&cli.IntFlag{
			Name:  "batch",
			Usage: "Number of records deleted per batch",
			Value: tokenizer.DefaultPurgeBatchSize,
		},
	},
	Action: runPurge,
}

func runPurge(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx.Context, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	purger := tokenizer.NewPurger(store, tokenizer.RealClock(), slog.Default())
	result, err := purger.Purge(ctx.Context, tokenizer.PurgeOptions{
		Revoked:   ctx.Bool("revoked"),
		Expired:   ctx.Bool("expired"),
		Hours:     ctx.Int("hours"),
		BatchSize: ctx.Int("batch"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Purged %d token(s) in %d batch(es).\n", result.Deleted, result.Batches)
	return nil
}

// openStore connects to the durable store selected by cfg.
func openStore(ctx context.Context, cfg tokenizer.StoreConfig) (tokenizer.TokenStore, func(), error) {
	switch cfg.Driver {
	case "mysql", "sqlite":
		dialector := mysql.Open(cfg.DSN)
		if cfg.Driver == "sqlite" {
			dialector = sqlite.Open(cfg.DSN)
		}
		db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store, err := tokenizer.NewGormTokenStore(db, cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		store, err := tokenizer.NewMongoTokenStore(client.Database(cfg.Database), cfg.Table, false)
		if err != nil {
			client.Disconnect(context.Background())
			return nil, nil, err
		}
		return store, func() { client.Disconnect(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("purge requires a durable store, got %q", cfg.Driver)
	}
}
