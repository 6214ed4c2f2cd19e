package repository

import (
	"context"
	"errors"
	"fmt"

	"digistore/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// entitlementRepository implements the EntitlementRepository interface using PostgreSQL.
type entitlementRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewEntitlementRepository creates a new PostgreSQL-backed entitlement repository.
func NewEntitlementRepository(pool *pgxpool.Pool, logger zerolog.Logger) EntitlementRepository {
	return &entitlementRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "entitlement").Logger(),
	}
}

// Grant inserts entitlements in a single batch.
func (r *entitlementRepository) Grant(ctx context.Context, entitlements []model.Entitlement) (int, error) {
	if len(entitlements) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO entitlements (order_id, item_index, asset_reference, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, item_index) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range entitlements {
		batch.Queue(query, e.OrderID, e.ItemIndex, e.AssetReference, e.GrantedAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for i := 0; i < len(entitlements); i++ {
		tag, err := results.Exec()
		if err != nil {
			r.logger.Error().
				Err(err).
				Str("order_id", entitlements[i].OrderID.String()).
				Int("item_index", entitlements[i].ItemIndex).
				Msg("failed to grant entitlement")
			return inserted, fmt.Errorf("failed to grant entitlement: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	r.logger.Debug().
		Int("requested", len(entitlements)).
		Int("inserted", inserted).
		Msg("entitlements granted")

	return inserted, nil
}

// Get retrieves the entitlement for one line item.
func (r *entitlementRepository) Get(ctx context.Context, orderID uuid.UUID, itemIndex int) (*model.Entitlement, error) {
	query := `
		SELECT order_id, item_index, asset_reference, granted_at
		FROM entitlements
		WHERE order_id = $1 AND item_index = $2
	`

	var e model.Entitlement
	err := r.pool.QueryRow(ctx, query, orderID, itemIndex).Scan(&e.OrderID, &e.ItemIndex, &e.AssetReference, &e.GrantedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to query entitlement")
		return nil, fmt.Errorf("failed to query entitlement: %w", err)
	}

	return &e, nil
}
