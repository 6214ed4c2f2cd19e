package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digistore/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// orderColumns is shared by every query that returns a full order row.
const orderColumns = `
	id, owner_user_id, access_token, idempotency_key, request_hash,
	customer_name, customer_email, customer_phone,
	subtotal, discount_code, discount_percent, discount_amount, total, status,
	COALESCE(gateway_session_ref, ''), COALESCE(gateway_invoice_ref, ''),
	COALESCE(payment_url, ''), COALESCE(gateway_status, ''), session_claimed_at,
	COALESCE(evidence, ''), fulfilled_at, notified_at, created_at, updated_at`

// orderRepository implements the OrderRepository interface using PostgreSQL.
type orderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "order").Logger(),
	}
}

// Create inserts the order and its items in one transaction.
func (r *orderRepository) Create(ctx context.Context, order *model.Order) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure transaction is rolled back on error
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var (
		discountCode    *string
		discountPercent decimal.NullDecimal
		discountAmount  decimal.NullDecimal
	)
	if order.Discount != nil {
		discountCode = &order.Discount.Code
		discountPercent = decimal.NewNullDecimal(order.Discount.Percent)
		discountAmount = decimal.NewNullDecimal(order.Discount.Amount)
	}

	query := `
		INSERT INTO orders (
			id, owner_user_id, access_token, idempotency_key, request_hash,
			customer_name, customer_email, customer_phone,
			subtotal, discount_code, discount_percent, discount_amount, total, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = tx.Exec(ctx, query,
		order.ID,
		order.OwnerUserID,
		order.AccessToken,
		order.IdempotencyKey,
		order.RequestHash,
		order.Contact.Name,
		order.Contact.Email,
		order.Contact.Phone,
		order.Subtotal,
		discountCode,
		discountPercent,
		discountAmount,
		order.Total,
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_idempotency_key_key" {
			r.logger.Debug().Str("order_id", order.ID.String()).Msg("duplicate idempotency key")
			return ErrDuplicateIdempotencyKey
		}
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, position, product_id, title, unit_price, variant_tag, asset_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(itemQuery, order.ID, i, item.ProductID, item.Title, item.UnitPrice, string(item.VariantTag), item.AssetReference)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range order.Items {
		if _, err = results.Exec(); err != nil {
			results.Close()
			r.logger.Error().
				Err(err).
				Str("order_id", order.ID.String()).
				Str("product_id", order.Items[i].ProductID).
				Msg("failed to create order item")
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	if err = results.Close(); err != nil {
		return fmt.Errorf("failed to create order items: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to commit transaction")
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Debug().
		Str("order_id", order.ID.String()).
		Int("item_count", len(order.Items)).
		Msg("order created successfully")

	return nil
}

// GetByID retrieves an order by its ID along with its items.
func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByIdempotencyKey retrieves the order created with the given key.
func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	return r.getOne(ctx, "idempotency_key = $1", key)
}

// GetBySessionRef retrieves the order bound to a gateway session.
func (r *orderRepository) GetBySessionRef(ctx context.Context, sessionRef string) (*model.Order, error) {
	return r.getOne(ctx, "gateway_session_ref = $1", sessionRef)
}

func (r *orderRepository) getOne(ctx context.Context, where string, arg any) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where

	order, err := scanOrder(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("where", where).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// Transition applies the pending-to-terminal compare-and-swap.
func (r *orderRepository) Transition(ctx context.Context, id uuid.UUID, expectedRef string, update model.StatusUpdate) (*model.Order, error) {
	query := `
		UPDATE orders
		SET status = $3,
		    gateway_status = COALESCE(NULLIF($4, ''), gateway_status),
		    gateway_invoice_ref = COALESCE(NULLIF($5, ''), gateway_invoice_ref),
		    evidence = NULLIF($6, ''),
		    updated_at = NOW()
		WHERE id = $1
		  AND COALESCE(gateway_session_ref, '') = $2
		  AND status = 'pending'
		RETURNING ` + orderColumns

	order, err := scanOrder(r.pool.QueryRow(ctx, query,
		id, expectedRef, string(update.Status), update.GatewayStatus, update.InvoiceRef, update.Evidence))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to transition order")
		return nil, fmt.Errorf("failed to transition order: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// ClaimSession marks session creation as in flight.
func (r *orderRepository) ClaimSession(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET session_claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND gateway_session_ref IS NULL
		  AND (session_claimed_at IS NULL OR session_claimed_at < $2)
	`

	tag, err := r.pool.Exec(ctx, query, id, staleBefore)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to claim session")
		return false, fmt.Errorf("failed to claim session: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseSessionClaim clears the in-flight marker.
func (r *orderRepository) ReleaseSessionClaim(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE orders
		SET session_claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND gateway_session_ref IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to release session claim")
		return fmt.Errorf("failed to release session claim: %w", err)
	}
	return nil
}

// AttachSession binds the gateway session to the order.
func (r *orderRepository) AttachSession(ctx context.Context, id uuid.UUID, session model.PaymentSession) (*model.Order, error) {
	query := `
		UPDATE orders
		SET gateway_session_ref = $2,
		    gateway_invoice_ref = NULLIF($3, ''),
		    payment_url = $4,
		    gateway_status = NULLIF($5, ''),
		    updated_at = NOW()
		WHERE id = $1 AND gateway_session_ref IS NULL
		RETURNING ` + orderColumns

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id, session.SessionRef, session.InvoiceRef, session.PaymentURL, session.LastStatus))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to attach session")
		return nil, fmt.Errorf("failed to attach session: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// RecordGatewayStatus stores the last gateway-reported status.
func (r *orderRepository) RecordGatewayStatus(ctx context.Context, id uuid.UUID, gatewayStatus, invoiceRef string) error {
	query := `
		UPDATE orders
		SET gateway_status = NULLIF($2, ''),
		    gateway_invoice_ref = COALESCE(NULLIF($3, ''), gateway_invoice_ref),
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id, gatewayStatus, invoiceRef); err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to record gateway status")
		return fmt.Errorf("failed to record gateway status: %w", err)
	}
	return nil
}

// MarkFulfilled sets fulfilled_at once.
func (r *orderRepository) MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.stamp(ctx, "fulfilled_at", id, at)
}

// MarkNotified sets notified_at once.
func (r *orderRepository) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.stamp(ctx, "notified_at", id, at)
}

func (r *orderRepository) stamp(ctx context.Context, column string, id uuid.UUID, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE orders
		SET %[1]s = $2, updated_at = NOW()
		WHERE id = $1 AND %[1]s IS NULL
	`, column)

	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Str("column", column).Msg("failed to stamp order")
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	return nil
}

// ListStalePending returns pending orders created before the cutoff.
func (r *orderRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	return r.list(ctx, query, createdBefore, limit)
}

// ListUnfulfilled returns completed orders missing entitlements or a notification.
func (r *orderRepository) ListUnfulfilled(ctx context.Context, limit int) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'completed' AND (fulfilled_at IS NULL OR notified_at IS NULL)
		ORDER BY updated_at
		LIMIT $1`

	return r.list(ctx, query, limit)
}

func (r *orderRepository) list(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list orders")
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			r.logger.Error().Err(err).Msg("failed to scan order row")
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order rows")
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}

	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, order *model.Order) error {
	query := `
		SELECT product_id, title, unit_price, variant_tag, asset_reference
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`

	rows, err := r.pool.Query(ctx, query, order.ID)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to query order items")
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make([]model.LineItem, 0)
	for rows.Next() {
		var (
			item model.LineItem
			tag  string
		)
		if err := rows.Scan(&item.ProductID, &item.Title, &item.UnitPrice, &tag, &item.AssetReference); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order item row")
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		item.VariantTag = model.VariantTag(tag)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order item rows")
		return fmt.Errorf("error iterating order items: %w", err)
	}

	order.Items = items
	return nil
}

// scanOrder reads one row selected with orderColumns.
func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o               model.Order
		status          string
		discountCode    *string
		discountPercent decimal.NullDecimal
		discountAmount  decimal.NullDecimal
	)

	err := row.Scan(
		&o.ID,
		&o.OwnerUserID,
		&o.AccessToken,
		&o.IdempotencyKey,
		&o.RequestHash,
		&o.Contact.Name,
		&o.Contact.Email,
		&o.Contact.Phone,
		&o.Subtotal,
		&discountCode,
		&discountPercent,
		&discountAmount,
		&o.Total,
		&status,
		&o.Payment.SessionRef,
		&o.Payment.InvoiceRef,
		&o.Payment.PaymentURL,
		&o.Payment.LastStatus,
		&o.Payment.ClaimedAt,
		&o.Evidence,
		&o.FulfilledAt,
		&o.NotifiedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	if discountCode != nil {
		o.Discount = &model.AppliedDiscount{
			Code:    *discountCode,
			Percent: discountPercent.Decimal,
			Amount:  discountAmount.Decimal,
		}
	}

	return &o, nil
}
