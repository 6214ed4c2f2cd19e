package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const sampleSeed = `{
  "products": [
    {"id": "guide", "title": "Guide", "variants": [
      {"tag": "ar", "price": "3.500", "asset": "guides/ar.pdf", "fileName": "ar.pdf"},
      {"tag": "en", "price": "4.000", "asset": "guides/en.pdf"}
    ]},
    {"id": "planner", "title": "Planner", "flatPrice": "2.000", "asset": "planners/p.xlsx"}
  ],
  "discounts": [
    {"code": " save10 ", "discountPercent": "10", "isActive": true, "usageLimit": 5, "minPurchaseAmount": "0"}
  ]
}`

func TestDecodeSeed(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError string
	}{
		{name: "Valid catalog", input: sampleSeed},
		{name: "Unknown field", input: `{"products": [], "coupons": []}`, expectError: "failed to decode"},
		{name: "Missing title", input: `{"products": [{"id": "x", "flatPrice": "1"}]}`, expectError: "id and title are required"},
		{name: "No price", input: `{"products": [{"id": "x", "title": "X"}]}`, expectError: "needs a flat price or variants"},
		{name: "Unknown variant", input: `{"products": [{"id": "x", "title": "X", "variants": [{"tag": "fr", "price": "1", "asset": "a"}]}]}`, expectError: "unknown variant tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeSeed(strings.NewReader(tt.input))
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"guide", "planner"}, data.ProductIDs())
			assert.Equal(t, "SAVE10", data.Discounts[0].Code)
		})
	}
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()

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

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	})
	return pool
}

func TestMigrateAndSeed(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	logger := zerolog.Nop()

	require.NoError(t, Migrate(ctx, pool, logger))
	// Applying twice is a no-op.
	require.NoError(t, Migrate(ctx, pool, logger))

	data, err := DecodeSeed(strings.NewReader(sampleSeed))
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, pool, data, logger))

	// A discount that has been used keeps its count across reseeding.
	_, err = pool.Exec(ctx, `UPDATE discount_codes SET used_count = 2 WHERE code = 'SAVE10'`)
	require.NoError(t, err)

	data.Products[1].Inactive = true
	data.Products[0].Variants = data.Products[0].Variants[:1]
	require.NoError(t, Seed(ctx, pool, data, logger))

	var variants int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM product_variants WHERE product_id = 'guide'`).Scan(&variants))
	assert.Equal(t, 1, variants)

	var active bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT is_active FROM products WHERE id = 'planner'`).Scan(&active))
	assert.False(t, active)

	var used int
	var percent decimal.Decimal
	require.NoError(t, pool.QueryRow(ctx, `SELECT used_count, discount_percent FROM discount_codes WHERE code = 'SAVE10'`).Scan(&used, &percent))
	assert.Equal(t, 2, used)
	assert.True(t, percent.Equal(decimal.NewFromInt(10)))
}
