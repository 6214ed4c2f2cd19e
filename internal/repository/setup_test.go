package repository

import (
	"context"
	"testing"
	"time"

	"digistore/internal/database"
	"digistore/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL testcontainer, applies migrations and returns a connection pool.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	// Get connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Create connection pool
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, database.Migrate(ctx, pool, zerolog.Nop()))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedProduct inserts a product and its variants.
func seedProduct(t *testing.T, pool *pgxpool.Pool, p model.Product) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO products (id, title, flat_price, asset_reference, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Title, decimal.NullDecimal{Decimal: derefDecimal(p.FlatPrice), Valid: p.FlatPrice != nil}, p.AssetReference, p.IsActive)
	require.NoError(t, err)

	for _, v := range p.Variants {
		_, err := pool.Exec(ctx, `
			INSERT INTO product_variants (product_id, tag, price, asset_reference, file_name)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, string(v.Tag), v.Price, v.AssetReference, v.FileName)
		require.NoError(t, err)
	}
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// seedDiscount inserts a discount code.
func seedDiscount(t *testing.T, pool *pgxpool.Pool, d model.DiscountCode) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		INSERT INTO discount_codes (code, discount_percent, is_active, usage_limit, used_count, valid_from, valid_until, min_purchase_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.Code, d.DiscountPercent, d.IsActive, d.UsageLimit, d.UsedCount, d.ValidFrom, d.ValidUntil, d.MinPurchaseAmount)
	require.NoError(t, err)
}
