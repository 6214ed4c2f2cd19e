// Command seed loads a catalog and discount codes into the database and drops
// any cached copies of the seeded products.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"digistore/internal/cache"
	"digistore/internal/config"
	"digistore/internal/database"

	"github.com/redis/go-redis/v9"
)

//go:embed catalog.json
var defaultCatalog []byte

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	file := flag.String("file", "", "seed file (defaults to the bundled sample catalog)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := config.NewLogger(cfg.Logger)

	var src io.Reader = bytes.NewReader(defaultCatalog)
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		src = f
	}
	data, err := database.DecodeSeed(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		return err
	}
	if err := database.Seed(ctx, pool, data, logger); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := cache.Invalidate(ctx, rdb, data.ProductIDs()...); err != nil {
			logger.Warn().Err(err).Msg("seeded products may be served stale until their cache entries expire")
		}
	}

	fmt.Printf("seeded %d products and %d discount codes\n", len(data.Products), len(data.Discounts))
	return nil
}
