package repository

import (
	"context"
	"fmt"

	"digistore/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// catalogRepository implements the CatalogRepository interface using PostgreSQL.
type catalogRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewCatalogRepository creates a new PostgreSQL-backed catalog repository.
func NewCatalogRepository(pool *pgxpool.Pool, logger zerolog.Logger) CatalogRepository {
	return &catalogRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "catalog").Logger(),
	}
}

// GetByID retrieves a single product by its ID.
func (r *catalogRepository) GetByID(ctx context.Context, id string) (*model.Product, error) {
	products, err := r.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		r.logger.Debug().Str("product_id", id).Msg("product not found")
		return nil, nil
	}
	return &products[0], nil
}

// GetByIDs retrieves multiple products by their IDs.
func (r *catalogRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	if len(ids) == 0 {
		return []model.Product{}, nil
	}

	query := `
		SELECT id, title, flat_price, asset_reference, is_active, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		r.logger.Error().Err(err).Int("count", len(ids)).Msg("failed to query products by IDs")
		return nil, fmt.Errorf("failed to query products by IDs: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	index := make(map[string]int, len(ids))
	for rows.Next() {
		var (
			p         model.Product
			flatPrice decimal.NullDecimal
		)
		if err := rows.Scan(&p.ID, &p.Title, &flatPrice, &p.AssetReference, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan product row")
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if flatPrice.Valid {
			price := flatPrice.Decimal
			p.FlatPrice = &price
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating product rows")
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	if len(products) == 0 {
		return []model.Product{}, nil
	}

	if err := r.attachVariants(ctx, ids, products, index); err != nil {
		return nil, err
	}

	return products, nil
}

// List retrieves active products with pagination.
func (r *catalogRepository) List(ctx context.Context, limit, offset int) ([]model.Product, error) {
	query := `
		SELECT id
		FROM products
		WHERE is_active = TRUE
		ORDER BY id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error().Err(err).Int("limit", limit).Int("offset", offset).Msg("failed to list products")
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan product id")
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating product ids")
		return nil, fmt.Errorf("error iterating product ids: %w", err)
	}

	r.logger.Debug().Int("count", len(ids)).Int("limit", limit).Int("offset", offset).Msg("listed products")
	return r.GetByIDs(ctx, ids)
}

func (r *catalogRepository) attachVariants(ctx context.Context, ids []string, products []model.Product, index map[string]int) error {
	query := `
		SELECT product_id, tag, price, asset_reference, file_name
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, tag
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query product variants")
		return fmt.Errorf("failed to query product variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			tag       string
			v         model.ProductVariant
		)
		if err := rows.Scan(&productID, &tag, &v.Price, &v.AssetReference, &v.FileName); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan variant row")
			return fmt.Errorf("failed to scan variant: %w", err)
		}

		parsed, err := model.ParseVariantTag(tag)
		if err != nil {
			r.logger.Warn().Str("product_id", productID).Str("tag", tag).Msg("skipping unknown variant tag")
			continue
		}
		v.Tag = parsed

		if i, ok := index[productID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating variant rows")
		return fmt.Errorf("error iterating variants: %w", err)
	}

	return nil
}
