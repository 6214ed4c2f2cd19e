package pricing

import (
	"testing"

	"digistore/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog() Catalog {
	flat := price("2.000")
	return NewCatalog([]model.Product{
		{
			ID:             "guide",
			Title:          "Study Guide",
			FlatPrice:      &flat,
			AssetReference: "assets/guide.pdf",
			IsActive:       true,
		},
		{
			ID:       "workbook",
			Title:    "Workbook",
			IsActive: true,
			Variants: []model.ProductVariant{
				{Tag: model.VariantArabic, Price: price("3.500"), AssetReference: "assets/workbook-ar.pdf"},
				{Tag: model.VariantEnglish, Price: price("4.000"), AssetReference: "assets/workbook-en.pdf"},
			},
		},
		{
			ID:        "retired",
			Title:     "Retired",
			FlatPrice: &flat,
			IsActive:  false,
		},
	})
}

func TestResolver_FlatPricedProduct(t *testing.T) {
	resolver := NewResolver(100)

	priced, err := resolver.Resolve(model.CartSelection{ProductID: "guide"}, testCatalog())

	require.NoError(t, err)
	require.Len(t, priced.Items, 1)
	assert.Equal(t, "Study Guide", priced.Items[0].Title)
	assert.Equal(t, "assets/guide.pdf", priced.Items[0].AssetReference)
	assert.Empty(t, priced.Items[0].VariantTag)
	assert.True(t, price("2.000").Equal(priced.Subtotal))
}

func TestResolver_VariantProduct(t *testing.T) {
	resolver := NewResolver(100)

	t.Run("each variant is its own line item", func(t *testing.T) {
		priced, err := resolver.Resolve(model.CartSelection{
			ProductID:   "workbook",
			VariantTags: []model.VariantTag{model.VariantArabic, model.VariantEnglish},
		}, testCatalog())

		require.NoError(t, err)
		require.Len(t, priced.Items, 2)
		assert.Equal(t, "Workbook (Arabic)", priced.Items[0].Title)
		assert.Equal(t, model.VariantEnglish, priced.Items[1].VariantTag)
		assert.Equal(t, "assets/workbook-en.pdf", priced.Items[1].AssetReference)
		assert.True(t, price("7.500").Equal(priced.Subtotal))
	})

	t.Run("duplicate tags collapse", func(t *testing.T) {
		priced, err := resolver.Resolve(model.CartSelection{
			ProductID:   "workbook",
			VariantTags: []model.VariantTag{model.VariantArabic, model.VariantArabic},
		}, testCatalog())

		require.NoError(t, err)
		assert.Len(t, priced.Items, 1)
	})

	t.Run("no variant selected", func(t *testing.T) {
		_, err := resolver.Resolve(model.CartSelection{ProductID: "workbook"}, testCatalog())
		assert.Equal(t, model.ErrNoVariantSelected, err)
	})

	t.Run("unknown variant", func(t *testing.T) {
		_, err := resolver.Resolve(model.CartSelection{
			ProductID:   "workbook",
			VariantTags: []model.VariantTag{"fr"},
		}, testCatalog())
		assert.Equal(t, model.ErrUnknownVariant, err)
	})
}

func TestResolver_Cart(t *testing.T) {
	resolver := NewResolver(2)

	t.Run("keeps price at add time", func(t *testing.T) {
		priced, err := resolver.Resolve(model.CartSelection{Items: []model.LineItem{
			{ProductID: "guide", UnitPrice: price("1.750")},
			{ProductID: "workbook", VariantTag: model.VariantArabic, UnitPrice: price("3.000")},
		}}, testCatalog())

		require.NoError(t, err)
		require.Len(t, priced.Items, 2)
		assert.True(t, price("4.750").Equal(priced.Subtotal))
		assert.Equal(t, "assets/workbook-ar.pdf", priced.Items[1].AssetReference)
	})

	t.Run("too many items", func(t *testing.T) {
		_, err := resolver.Resolve(model.CartSelection{Items: []model.LineItem{
			{ProductID: "guide", UnitPrice: price("1.000")},
			{ProductID: "guide", UnitPrice: price("1.000")},
			{ProductID: "guide", UnitPrice: price("1.000")},
		}}, testCatalog())
		assert.Equal(t, model.ErrTooManyItems, err)
	})

	t.Run("non positive price", func(t *testing.T) {
		_, err := resolver.Resolve(model.CartSelection{Items: []model.LineItem{
			{ProductID: "guide", UnitPrice: decimal.Zero},
		}}, testCatalog())
		assert.Equal(t, model.ErrInvalidPrice, err)
	})

	t.Run("variant tag on flat product", func(t *testing.T) {
		_, err := resolver.Resolve(model.CartSelection{Items: []model.LineItem{
			{ProductID: "guide", VariantTag: model.VariantEnglish, UnitPrice: price("1.000")},
		}}, testCatalog())
		assert.Equal(t, model.ErrUnknownVariant, err)
	})
}

func TestResolver_Rejections(t *testing.T) {
	resolver := NewResolver(100)

	_, err := resolver.Resolve(model.CartSelection{}, testCatalog())
	assert.Equal(t, model.ErrEmptySelection, err)

	_, err = resolver.Resolve(model.CartSelection{ProductID: "missing"}, testCatalog())
	assert.Equal(t, model.ErrProductNotFound, err)

	_, err = resolver.Resolve(model.CartSelection{ProductID: "retired"}, testCatalog())
	assert.Equal(t, model.ErrProductNotFound, err)
}
