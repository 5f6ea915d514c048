// Command seed-db prepares a fresh database: it runs the migrations, stores
// the launch promotion configuration and registers an operator API key.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/promotion"
	"github.com/xenking/preorder/internal/storage/postgres"
)

type options struct {
	databaseURL    string
	apiKey         string
	apiKeyPepper   string
	keyID          string
	keyName        string
	forcePromotion bool
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.apiKey, "api-key", "", "operator API key to seed (or PREORDER_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PREORDER_API_KEY_PEPPER env)")
	flag.StringVar(&opts.keyID, "key-id", "default", "ID of the seeded API key")
	flag.StringVar(&opts.keyName, "key-name", "Default operator key", "display name of the seeded API key")
	flag.BoolVar(&opts.forcePromotion, "force-promotion", false, "overwrite an existing promotion configuration")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("PREORDER_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or PREORDER_SEED_API_KEY")
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("PREORDER_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPromotion(ctx, lg, postgres.NewPromotionRepository(pool), opts.forcePromotion); err != nil {
		return errors.Wrap(err, "seed promotion")
	}
	if err := seedAPIKey(ctx, lg, postgres.NewAPIKeyRepository(pool), opts); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

// seedPromotion stores the launch configuration unless an operator already
// configured one.
func seedPromotion(ctx context.Context, lg *zap.Logger, repo promotion.Repository, force bool) error {
	current, err := repo.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "read current promotion")
	}
	if !force && configured(current) {
		lg.Info("Promotion already configured, skipping",
			zap.String("base_shipping_fee", current.BaseShippingFee.String()),
			zap.Int("gift_tiers", len(current.GiftTiers)),
		)
		return nil
	}

	cfg := promotion.Default()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := repo.Put(ctx, cfg); err != nil {
		return errors.Wrap(err, "store promotion")
	}
	lg.Info("Seeded promotion",
		zap.String("base_shipping_fee", cfg.BaseShippingFee.String()),
		zap.Int("free_shipping_threshold", cfg.FreeShipping.ThresholdUnits),
		zap.Int("gift_tiers", len(cfg.GiftTiers)),
	)
	return nil
}

func configured(cfg *promotion.Config) bool {
	return cfg.FreeShipping.Enabled || len(cfg.GiftTiers) > 0 || !cfg.BaseShippingFee.IsZero()
}

type keySaver interface {
	Save(ctx context.Context, k auth.APIKeyInfo) error
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, repo keySaver, opts options) error {
	info := auth.APIKeyInfo{
		ID:      opts.keyID,
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    opts.keyName,
		Scopes:  []string{"operator"},
	}
	if err := repo.Save(ctx, info); err != nil {
		return errors.Wrapf(err, "upsert api key %s", info.ID)
	}
	lg.Info("Seeded API key", zap.String("id", info.ID), zap.String("name", info.Name))
	return nil
}
