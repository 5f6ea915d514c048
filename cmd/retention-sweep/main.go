// Command retention-sweep runs a single retention sweep and exits. It is meant
// for cron-style invocation when the API's in-process scheduler is disabled.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/retention"
	"github.com/xenking/preorder/internal/storage/postgres"
)

func main() {
	cfg := retention.DefaultConfig()
	var (
		databaseURL string
		timeout     time.Duration
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&cfg.AwaitingPaymentGrace, "awaiting-payment-grace", cfg.AwaitingPaymentGrace, "age after which unpaid orders are deleted")
	flag.DurationVar(&cfg.ReclaimableGrace, "reclaimable-grace", cfg.ReclaimableGrace, "age after which reported and confirmed orders are deleted")
	flag.BoolVar(&cfg.IncludeCancelled, "include-cancelled", cfg.IncludeCancelled, "also delete cancelled orders")
	flag.DurationVar(&cfg.CancelledGrace, "cancelled-grace", cfg.CancelledGrace, "age after which cancelled orders are deleted")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "rows deleted per statement")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "upper bound of the sweep")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	res, err := run(ctx, databaseURL, cfg, timeout)
	if err != nil {
		lg.Fatal("Retention sweep failed", zap.Error(err))
	}
	lg.Info("Retention sweep finished",
		zap.Int("awaiting_payment", res.DeletedAwaitingPayment),
		zap.Int("reclaimable", res.DeletedReclaimable),
		zap.Int("cancelled", res.DeletedCancelled),
		zap.Int("failures", res.Failures),
		zap.Bool("interrupted", res.Interrupted),
	)
	if res.Failures > 0 || res.Interrupted {
		_ = lg.Sync()
		os.Exit(2)
	}
}

func run(ctx context.Context, databaseURL string, cfg retention.Config, timeout time.Duration) (retention.Result, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return retention.Result{}, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	svc, err := order.NewService(order.ServiceDeps{
		Orders:     postgres.NewOrderRepository(pool),
		Promotions: postgres.NewPromotionRepository(pool),
	})
	if err != nil {
		return retention.Result{}, err
	}
	policy, err := retention.New(svc, cfg, nil)
	if err != nil {
		return retention.Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return policy.Sweep(ctx, time.Now().UTC())
}
