package service

import (
	"context"

	"digistore/internal/model"
	"digistore/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CatalogService defines read operations over the product catalog.
type CatalogService interface {
	// List retrieves active products with pagination.
	List(ctx context.Context, limit, offset int) ([]model.Product, error)

	// GetByID retrieves a single product by ID.
	GetByID(ctx context.Context, id string) (*model.Product, error)
}

// CheckoutService prices selections and turns them into paid-for orders.
type CheckoutService interface {
	// Price resolves a selection into line items and a subtotal.
	Price(ctx context.Context, selection model.CartSelection) (model.PricedSelection, error)

	// ValidateDiscount previews a discount code against a subtotal without reserving it.
	ValidateDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*model.DiscountValidationResponse, error)

	// Submit creates the order and its payment session in one logical operation.
	// A non-empty idempotencyKey replays the order previously created with it.
	Submit(ctx context.Context, req *model.CheckoutRequest, requester model.Requester, idempotencyKey string) (*model.CheckoutResponse, error)
}

// OrderService defines the operations a buyer performs on an existing order.
type OrderService interface {
	// Get retrieves an order the requester may see.
	Get(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.Order, error)

	// Status reconciles a pending order and reports what the buyer should be told.
	Status(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.OrderStatusResponse, error)

	// CreateSession opens, or returns the existing, payment session for a pending order.
	CreateSession(ctx context.Context, id uuid.UUID, requester model.Requester) (payment.SessionResult, error)
}
