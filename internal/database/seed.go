package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"digistore/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SeedData is the catalog and discount codes loaded by the seed command.
// Asset references are spelled out here because the API representation hides them.
type SeedData struct {
	Products  []SeedProduct        `json:"products"`
	Discounts []model.DiscountCode `json:"discounts"`
}

// SeedProduct is a product as written in a seed file.
type SeedProduct struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	FlatPrice *decimal.Decimal `json:"flatPrice,omitempty"`
	Asset     string           `json:"asset,omitempty"`
	Inactive  bool             `json:"inactive,omitempty"`
	Variants  []SeedVariant    `json:"variants,omitempty"`
}

// SeedVariant is one edition of a seeded product.
type SeedVariant struct {
	Tag      model.VariantTag `json:"tag"`
	Price    decimal.Decimal  `json:"price"`
	Asset    string           `json:"asset"`
	FileName string           `json:"fileName,omitempty"`
}

// DecodeSeed reads seed data and rejects products that could never be priced.
func DecodeSeed(r io.Reader) (SeedData, error) {
	var data SeedData
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		return SeedData{}, fmt.Errorf("failed to decode seed data: %w", err)
	}

	for _, p := range data.Products {
		if p.ID == "" || p.Title == "" {
			return SeedData{}, fmt.Errorf("product %q: id and title are required", p.ID)
		}
		if p.FlatPrice == nil && len(p.Variants) == 0 {
			return SeedData{}, fmt.Errorf("product %q: needs a flat price or variants", p.ID)
		}
		for _, v := range p.Variants {
			if !v.Tag.Valid() {
				return SeedData{}, fmt.Errorf("product %q: unknown variant tag %q", p.ID, v.Tag)
			}
		}
	}
	for i := range data.Discounts {
		data.Discounts[i].Code = model.NormalizeDiscountCode(data.Discounts[i].Code)
	}
	return data, nil
}

// ProductIDs lists the seeded product IDs.
func (d SeedData) ProductIDs() []string {
	ids := make([]string, 0, len(d.Products))
	for _, p := range d.Products {
		ids = append(ids, p.ID)
	}
	return ids
}

// Seed upserts products, their variants and discount codes in one transaction.
// Existing discount usage counts are kept.
func Seed(ctx context.Context, pool *pgxpool.Pool, data SeedData, logger zerolog.Logger) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, p := range data.Products {
			flat := decimal.NullDecimal{}
			if p.FlatPrice != nil {
				flat = decimal.NullDecimal{Decimal: *p.FlatPrice, Valid: true}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO products (id, title, flat_price, asset_reference, is_active)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET
					title = EXCLUDED.title,
					flat_price = EXCLUDED.flat_price,
					asset_reference = EXCLUDED.asset_reference,
					is_active = EXCLUDED.is_active,
					updated_at = NOW()
			`, p.ID, p.Title, flat, p.Asset, !p.Inactive); err != nil {
				return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
			}

			if _, err := tx.Exec(ctx, `DELETE FROM product_variants WHERE product_id = $1`, p.ID); err != nil {
				return fmt.Errorf("failed to clear variants of %s: %w", p.ID, err)
			}
			for _, v := range p.Variants {
				if _, err := tx.Exec(ctx, `
					INSERT INTO product_variants (product_id, tag, price, asset_reference, file_name)
					VALUES ($1, $2, $3, $4, $5)
				`, p.ID, string(v.Tag), v.Price, v.Asset, v.FileName); err != nil {
					return fmt.Errorf("failed to insert variant %s/%s: %w", p.ID, v.Tag, err)
				}
			}
		}

		for _, d := range data.Discounts {
			if _, err := tx.Exec(ctx, `
				INSERT INTO discount_codes (code, discount_percent, is_active, usage_limit, valid_from, valid_until, min_purchase_amount)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (code) DO UPDATE SET
					discount_percent = EXCLUDED.discount_percent,
					is_active = EXCLUDED.is_active,
					usage_limit = EXCLUDED.usage_limit,
					valid_from = EXCLUDED.valid_from,
					valid_until = EXCLUDED.valid_until,
					min_purchase_amount = EXCLUDED.min_purchase_amount,
					updated_at = NOW()
			`, d.Code, d.DiscountPercent, d.IsActive, d.UsageLimit, d.ValidFrom, d.ValidUntil, d.MinPurchaseAmount); err != nil {
				return fmt.Errorf("failed to upsert discount %s: %w", d.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info().
		Int("products", len(data.Products)).
		Int("discounts", len(data.Discounts)).
		Msg("seed data applied")
	return nil
}
