package repository

import (
	"context"
	"testing"

	"digistore/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRepository_GetByIDs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	flat := dec("2.000")
	seedProduct(t, pool, model.Product{
		ID:             "guide",
		Title:          "Study Guide",
		FlatPrice:      &flat,
		AssetReference: "assets/guide.pdf",
		IsActive:       true,
	})
	seedProduct(t, pool, model.Product{
		ID:       "workbook",
		Title:    "Workbook",
		IsActive: true,
		Variants: []model.ProductVariant{
			{Tag: model.VariantArabic, Price: dec("3.500"), AssetReference: "assets/wb-ar.pdf", FileName: "wb-ar.pdf"},
			{Tag: model.VariantEnglish, Price: dec("4.000"), AssetReference: "assets/wb-en.pdf", FileName: "wb-en.pdf"},
		},
	})

	repo := NewCatalogRepository(pool, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name          string
		ids           []string
		expectedCount int
	}{
		{name: "Both products", ids: []string{"guide", "workbook"}, expectedCount: 2},
		{name: "Unknown IDs are skipped", ids: []string{"guide", "missing"}, expectedCount: 1},
		{name: "Empty input", ids: []string{}, expectedCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := repo.GetByIDs(ctx, tt.ids)
			require.NoError(t, err)
			assert.Len(t, products, tt.expectedCount)
		})
	}

	t.Run("Variants are attached", func(t *testing.T) {
		product, err := repo.GetByID(ctx, "workbook")
		require.NoError(t, err)
		require.NotNil(t, product)
		require.Len(t, product.Variants, 2)
		assert.Nil(t, product.FlatPrice)

		variant, ok := product.Variant(model.VariantEnglish)
		require.True(t, ok)
		assert.True(t, dec("4.000").Equal(variant.Price))
		assert.Equal(t, "assets/wb-en.pdf", variant.AssetReference)
	})

	t.Run("Flat price is read", func(t *testing.T) {
		product, err := repo.GetByID(ctx, "guide")
		require.NoError(t, err)
		require.NotNil(t, product.FlatPrice)
		assert.True(t, flat.Equal(*product.FlatPrice))
		assert.Empty(t, product.Variants)
	})

	t.Run("Not found", func(t *testing.T) {
		product, err := repo.GetByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, product)
	})
}

func TestCatalogRepository_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	price := dec("1.000")
	for _, id := range []string{"c-item", "a-item", "b-item"} {
		seedProduct(t, pool, model.Product{ID: id, Title: id, FlatPrice: &price, AssetReference: "assets/" + id, IsActive: true})
	}
	seedProduct(t, pool, model.Product{ID: "retired", Title: "Retired", FlatPrice: &price, IsActive: false})

	repo := NewCatalogRepository(pool, zerolog.Nop())
	ctx := context.Background()

	t.Run("Active products in ID order", func(t *testing.T) {
		products, err := repo.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, products, 3)
		assert.Equal(t, "a-item", products[0].ID)
		assert.Equal(t, "c-item", products[2].ID)
	})

	t.Run("Offset and limit", func(t *testing.T) {
		products, err := repo.List(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "b-item", products[0].ID)
	})

	t.Run("Offset past the end", func(t *testing.T) {
		products, err := repo.List(ctx, 10, 10)
		require.NoError(t, err)
		assert.Empty(t, products)
	})
}
