package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digistore/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// discountRepository implements the DiscountRepository interface using PostgreSQL.
type discountRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDiscountRepository creates a new PostgreSQL-backed discount code repository.
func NewDiscountRepository(pool *pgxpool.Pool, logger zerolog.Logger) DiscountRepository {
	return &discountRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "discount").Logger(),
	}
}

// GetByCode retrieves a discount code.
func (r *discountRepository) GetByCode(ctx context.Context, code string) (*model.DiscountCode, error) {
	query := `
		SELECT code, discount_percent, is_active, usage_limit, used_count,
		       valid_from, valid_until, min_purchase_amount, created_at, updated_at
		FROM discount_codes
		WHERE code = $1
	`

	var d model.DiscountCode
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&d.Code,
		&d.DiscountPercent,
		&d.IsActive,
		&d.UsageLimit,
		&d.UsedCount,
		&d.ValidFrom,
		&d.ValidUntil,
		&d.MinPurchaseAmount,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("code", code).Msg("discount code not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Str("code", code).Msg("failed to query discount code")
		return nil, fmt.Errorf("failed to query discount code: %w", err)
	}

	return &d, nil
}

// Reserve claims one usage unit with a single conditional update.
func (r *discountRepository) Reserve(ctx context.Context, code string, at time.Time) (decimal.Decimal, bool, error) {
	query := `
		UPDATE discount_codes
		SET used_count = used_count + 1, updated_at = NOW()
		WHERE code = $1
		  AND is_active
		  AND (usage_limit IS NULL OR used_count < usage_limit)
		  AND (valid_from IS NULL OR valid_from <= $2)
		  AND (valid_until IS NULL OR valid_until >= $2)
		RETURNING discount_percent
	`

	var percent decimal.Decimal
	err := r.pool.QueryRow(ctx, query, code, at).Scan(&percent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("code", code).Msg("discount reservation matched no row")
			return decimal.Zero, false, nil
		}
		r.logger.Error().Err(err).Str("code", code).Msg("failed to reserve discount code")
		return decimal.Zero, false, fmt.Errorf("failed to reserve discount code: %w", err)
	}

	return percent, true, nil
}

// Release gives back one usage unit.
func (r *discountRepository) Release(ctx context.Context, code string) (bool, error) {
	query := `
		UPDATE discount_codes
		SET used_count = used_count - 1, updated_at = NOW()
		WHERE code = $1 AND used_count > 0
	`

	tag, err := r.pool.Exec(ctx, query, code)
	if err != nil {
		r.logger.Error().Err(err).Str("code", code).Msg("failed to release discount code")
		return false, fmt.Errorf("failed to release discount code: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
