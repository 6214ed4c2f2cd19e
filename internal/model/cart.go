package model

import "github.com/shopspring/decimal"

// LineItem is one priced, fulfillable unit captured onto an order.
type LineItem struct {
	ProductID      string          `json:"productId" validate:"required"`
	Title          string          `json:"title"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	VariantTag     VariantTag      `json:"variantTag,omitempty"`
	AssetReference string          `json:"-"`
}

// CartSelection is what the client asks to buy. Exactly one mode is used:
// Items for a multi-product cart priced at add time, or ProductID with
// VariantTags for a single product resolved against the catalog.
type CartSelection struct {
	Items       []LineItem   `json:"items,omitempty"`
	ProductID   string       `json:"productId,omitempty"`
	VariantTags []VariantTag `json:"variantTags,omitempty"`
}

// IsCart reports whether the selection carries pre-priced cart items.
func (s CartSelection) IsCart() bool {
	return len(s.Items) > 0
}

// ProductIDs returns the distinct product IDs referenced by the selection.
func (s CartSelection) ProductIDs() []string {
	if !s.IsCart() {
		if s.ProductID == "" {
			return nil
		}
		return []string{s.ProductID}
	}

	seen := make(map[string]struct{}, len(s.Items))
	ids := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// PricedSelection is the output of pricing a selection.
type PricedSelection struct {
	Items    []LineItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}
