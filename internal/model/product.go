package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// VariantTag identifies a localized edition of a product. The set is closed.
type VariantTag string

const (
	VariantArabic  VariantTag = "ar"
	VariantEnglish VariantTag = "en"
)

// KnownVariantTags lists every supported tag in display order.
var KnownVariantTags = []VariantTag{VariantArabic, VariantEnglish}

// Valid reports whether the tag belongs to the supported set.
func (t VariantTag) Valid() bool {
	switch t {
	case VariantArabic, VariantEnglish:
		return true
	}
	return false
}

// Label returns the human readable edition name.
func (t VariantTag) Label() string {
	switch t {
	case VariantArabic:
		return "Arabic"
	case VariantEnglish:
		return "English"
	}
	return string(t)
}

// ParseVariantTag converts a raw string into a VariantTag.
func ParseVariantTag(s string) (VariantTag, error) {
	t := VariantTag(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown variant tag %q", s)
	}
	return t, nil
}

// Product represents a purchasable digital product in the catalog.
// A product either carries a flat price and asset, or a set of variants.
type Product struct {
	ID             string           `json:"id" db:"id"`
	Title          string           `json:"title" db:"title"`
	FlatPrice      *decimal.Decimal `json:"flatPrice,omitempty" db:"flat_price"`
	AssetReference string           `json:"-" db:"asset_reference"`
	IsActive       bool             `json:"isActive" db:"is_active"`
	Variants       []ProductVariant `json:"variants,omitempty"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time        `json:"updatedAt" db:"updated_at"`
}

// ProductVariant is one localized edition with its own price and asset.
type ProductVariant struct {
	Tag            VariantTag      `json:"tag" db:"tag"`
	Price          decimal.Decimal `json:"price" db:"price"`
	AssetReference string          `json:"-" db:"asset_reference"`
	FileName       string          `json:"fileName,omitempty" db:"file_name"`
}

// HasVariants reports whether the product is sold per variant.
func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// Variant returns the variant with the given tag.
func (p *Product) Variant(tag VariantTag) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.Tag == tag {
			return v, true
		}
	}
	return ProductVariant{}, false
}
