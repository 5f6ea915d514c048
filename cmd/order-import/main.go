// Command order-import loads gzip'd JSON-lines exports of the previous
// storefront into the orders table. Orders already present are left as they
// are, so the import can be re-run safely.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/importer"
	"github.com/xenking/preorder/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		expected    uint
		dryRun      bool
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing the exports")
	flag.StringVar(&pattern, "pattern", "*.jsonl.gz", "glob of export files inside --data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected-orders", 1_000_000, "expected number of orders, sizes the duplicate filter")
	flag.BoolVar(&dryRun, "dry-run", false, "validate and count without writing")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	files := flag.Args()
	if len(files) == 0 {
		files, err = filepath.Glob(filepath.Join(dataDir, pattern))
		if err != nil {
			lg.Fatal("Invalid pattern", zap.Error(err))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, files, databaseURL, importer.Config{
		ExpectedOrders: expected,
		DryRun:         dryRun,
	}); err != nil {
		lg.Fatal("Order import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, files []string, databaseURL string, cfg importer.Config) error {
	var store importer.Store
	if !cfg.DryRun {
		lg.Info("Connecting to database")
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		store = postgres.NewOrderRepository(pool)
	}

	im, err := importer.New(store, cfg, lg)
	if err != nil {
		return err
	}
	stats, err := im.Run(ctx, files)
	lg.Info("Import finished",
		zap.Int("files", len(files)),
		zap.Int64("lines", stats.Lines),
		zap.Int64("imported", stats.Imported),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("existing", stats.Existing),
		zap.Int64("rejected", stats.Rejected),
	)
	return err
}
