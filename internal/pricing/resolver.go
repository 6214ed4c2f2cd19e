// Package pricing turns a cart selection into priced line items.
package pricing

import (
	"fmt"

	"digistore/internal/model"

	"github.com/shopspring/decimal"
)

// Catalog is a snapshot of the products referenced by a selection, keyed by product ID.
type Catalog map[string]*model.Product

// NewCatalog indexes a product slice by ID.
func NewCatalog(products []model.Product) Catalog {
	catalog := make(Catalog, len(products))
	for i := range products {
		catalog[products[i].ID] = &products[i]
	}
	return catalog
}

// Resolver prices selections. It performs no I/O.
type Resolver struct {
	maxItems int
}

// NewResolver creates a resolver that rejects selections with more than maxItems line items.
func NewResolver(maxItems int) *Resolver {
	return &Resolver{maxItems: maxItems}
}

// Resolve prices a selection against an already fetched catalog snapshot.
//
// Cart items keep the unit price they were added at; only their product, edition
// and asset are checked against the catalog. Single product selections are priced
// from the catalog, one line item per selected edition.
func (r *Resolver) Resolve(selection model.CartSelection, catalog Catalog) (model.PricedSelection, error) {
	var (
		items []model.LineItem
		err   error
	)

	switch {
	case selection.IsCart():
		items, err = r.resolveCart(selection.Items, catalog)
	case selection.ProductID != "":
		items, err = r.resolveProduct(selection.ProductID, selection.VariantTags, catalog)
	default:
		return model.PricedSelection{}, model.ErrEmptySelection
	}
	if err != nil {
		return model.PricedSelection{}, err
	}

	if r.maxItems > 0 && len(items) > r.maxItems {
		return model.PricedSelection{}, model.ErrTooManyItems
	}

	return model.PricedSelection{Items: items, Subtotal: Subtotal(items)}, nil
}

// Subtotal sums the unit prices of the given items.
func Subtotal(items []model.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.UnitPrice)
	}
	return model.RoundMoney(sum)
}

func (r *Resolver) resolveCart(cart []model.LineItem, catalog Catalog) ([]model.LineItem, error) {
	items := make([]model.LineItem, 0, len(cart))
	for _, added := range cart {
		product, err := lookup(catalog, added.ProductID)
		if err != nil {
			return nil, err
		}

		if !added.UnitPrice.IsPositive() {
			return nil, model.ErrInvalidPrice
		}

		item := model.LineItem{
			ProductID: product.ID,
			Title:     product.Title,
			UnitPrice: model.RoundMoney(added.UnitPrice),
		}

		if product.HasVariants() {
			variant, ok := product.Variant(added.VariantTag)
			if !ok {
				return nil, model.ErrUnknownVariant
			}
			item.Title = variantTitle(product, variant.Tag)
			item.VariantTag = variant.Tag
			item.AssetReference = variant.AssetReference
		} else {
			if added.VariantTag != "" {
				return nil, model.ErrUnknownVariant
			}
			item.AssetReference = product.AssetReference
		}

		items = append(items, item)
	}
	return items, nil
}

func (r *Resolver) resolveProduct(productID string, tags []model.VariantTag, catalog Catalog) ([]model.LineItem, error) {
	product, err := lookup(catalog, productID)
	if err != nil {
		return nil, err
	}

	if !product.HasVariants() {
		if len(tags) > 0 {
			return nil, model.ErrUnknownVariant
		}
		if product.FlatPrice == nil {
			return nil, fmt.Errorf("product %s has neither a flat price nor variants", product.ID)
		}
		return []model.LineItem{{
			ProductID:      product.ID,
			Title:          product.Title,
			UnitPrice:      model.RoundMoney(*product.FlatPrice),
			AssetReference: product.AssetReference,
		}}, nil
	}

	if len(tags) == 0 {
		return nil, model.ErrNoVariantSelected
	}

	seen := make(map[model.VariantTag]struct{}, len(tags))
	items := make([]model.LineItem, 0, len(tags))
	for _, tag := range tags {
		if !tag.Valid() {
			return nil, model.ErrUnknownVariant
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}

		variant, ok := product.Variant(tag)
		if !ok {
			return nil, model.ErrUnknownVariant
		}
		items = append(items, model.LineItem{
			ProductID:      product.ID,
			Title:          variantTitle(product, tag),
			UnitPrice:      model.RoundMoney(variant.Price),
			VariantTag:     tag,
			AssetReference: variant.AssetReference,
		})
	}
	return items, nil
}

func lookup(catalog Catalog, id string) (*model.Product, error) {
	product, ok := catalog[id]
	if !ok || product == nil || !product.IsActive {
		return nil, model.ErrProductNotFound
	}
	return product, nil
}

func variantTitle(product *model.Product, tag model.VariantTag) string {
	return fmt.Sprintf("%s (%s)", product.Title, tag.Label())
}
