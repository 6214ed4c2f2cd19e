package repository

import (
	"context"
	"errors"
	"time"

	"digistore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDuplicateIdempotencyKey is returned when an order with the same idempotency key already exists.
var ErrDuplicateIdempotencyKey = errors.New("order with this idempotency key already exists")

// CatalogRepository defines read access to products and their variants.
type CatalogRepository interface {
	// GetByID retrieves a single product with its variants. Returns nil if not found.
	GetByID(ctx context.Context, id string) (*model.Product, error)

	// GetByIDs retrieves multiple products with their variants.
	GetByIDs(ctx context.Context, ids []string) ([]model.Product, error)

	// List retrieves active products ordered by ID with pagination.
	List(ctx context.Context, limit, offset int) ([]model.Product, error)
}

// DiscountRepository defines data access for discount codes.
type DiscountRepository interface {
	// GetByCode retrieves a discount code. Returns nil if not found.
	GetByCode(ctx context.Context, code string) (*model.DiscountCode, error)

	// Reserve atomically increments used_count if the code is active, inside its
	// validity window at the given time, and below its usage limit.
	// Returns the code's current percent and false when no row qualified.
	Reserve(ctx context.Context, code string, at time.Time) (decimal.Decimal, bool, error)

	// Release decrements used_count if it is above zero.
	Release(ctx context.Context, code string) (bool, error)
}

// OrderRepository defines data access for orders and their line items.
type OrderRepository interface {
	// Create inserts the order and its items in one transaction.
	Create(ctx context.Context, order *model.Order) error

	// GetByID retrieves an order with its items. Returns nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// GetByIdempotencyKey retrieves the order created with the given key. Returns nil if not found.
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Order, error)

	// GetBySessionRef retrieves the order bound to a gateway session. Returns nil if not found.
	GetBySessionRef(ctx context.Context, sessionRef string) (*model.Order, error)

	// Transition moves a pending order whose session reference equals expectedRef
	// to a terminal status. Returns nil when no row matched.
	Transition(ctx context.Context, id uuid.UUID, expectedRef string, update model.StatusUpdate) (*model.Order, error)

	// ClaimSession marks a pending order without a session as having session creation in flight.
	// Claims older than staleBefore are considered abandoned and may be taken over.
	ClaimSession(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error)

	// ReleaseSessionClaim clears an in-flight claim on an order that still has no session.
	ReleaseSessionClaim(ctx context.Context, id uuid.UUID) error

	// AttachSession records the gateway session on an order that has none yet.
	AttachSession(ctx context.Context, id uuid.UUID, session model.PaymentSession) (*model.Order, error)

	// RecordGatewayStatus stores the last gateway-reported status without changing order status.
	RecordGatewayStatus(ctx context.Context, id uuid.UUID, gatewayStatus, invoiceRef string) error

	// MarkFulfilled sets fulfilled_at once.
	MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkNotified sets notified_at once.
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListStalePending returns pending orders created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error)

	// ListUnfulfilled returns completed orders missing entitlements or a confirmation notification.
	ListUnfulfilled(ctx context.Context, limit int) ([]model.Order, error)
}

// EntitlementRepository defines data access for download entitlements.
type EntitlementRepository interface {
	// Grant inserts entitlements, ignoring ones that already exist. Returns the number inserted.
	Grant(ctx context.Context, entitlements []model.Entitlement) (int, error)

	// Get retrieves the entitlement for one line item. Returns nil if not granted.
	Get(ctx context.Context, orderID uuid.UUID, itemIndex int) (*model.Entitlement, error)
}
