package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
	"github.com/AikioCorp/buy-web-sub002/internal/storage/postgres"
)

const batchSize = 1000

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "db/seed", "directory containing shops, categories and products .jsonl[.gz] files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	slog.Info("reading dump", slog.String("dir", dataDir))

	d, err := readDump(ctx, dataDir)
	if err != nil {
		return errors.Wrap(err, "read dump")
	}
	if n := dedupeSlugs(d.Products); n > 0 {
		slog.Warn("renamed duplicate product slugs", slog.Int("count", n))
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewCatalogRepository(pool)

	// Products reference both shops and categories.
	if err := inBatches(d.Categories, func(b []catalog.Category) error {
		return repo.UpsertCategories(ctx, b)
	}); err != nil {
		return errors.Wrap(err, "seed categories")
	}
	slog.Info("upserted categories", slog.Int("count", len(d.Categories)))

	if err := inBatches(d.Shops, func(b []catalog.Shop) error {
		return repo.UpsertShops(ctx, b)
	}); err != nil {
		return errors.Wrap(err, "seed shops")
	}
	slog.Info("upserted shops", slog.Int("count", len(d.Shops)))

	written := 0
	if err := inBatches(d.Products, func(b []catalog.Product) error {
		if err := repo.UpsertProducts(ctx, b); err != nil {
			return err
		}
		written += len(b)
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(d.Products)))
		return nil
	}); err != nil {
		return errors.Wrap(err, "seed products")
	}

	return nil
}

// inBatches calls fn with consecutive chunks of at most batchSize items.
func inBatches[T any](items []T, fn func([]T) error) error {
	for start := 0; start < len(items); start += batchSize {
		if err := fn(items[start:min(start+batchSize, len(items))]); err != nil {
			return errors.Wrapf(err, "batch at %d", start)
		}
	}
	return nil
}
