// Package order owns the order lifecycle: creation in pending and the
// single pending-to-terminal transition.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"digistore/internal/model"
	"digistore/internal/pricing"
	"digistore/internal/repository"
	"digistore/internal/telemetry"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Limits bounds the payable total of a new order.
type Limits struct {
	MinimumTotal decimal.Decimal
	MaximumTotal decimal.Decimal
}

// DefaultLimits returns the storefront's payable range.
func DefaultLimits() Limits {
	return Limits{
		MinimumTotal: decimal.RequireFromString("0.100"),
		MaximumTotal: decimal.RequireFromString("5000000.000"),
	}
}

// Store is the durable record of purchases and the only place order status changes.
type Store interface {
	// Create validates and persists a pending order before any gateway call is made.
	Create(ctx context.Context, in model.NewOrder) (*model.Order, error)

	// Transition moves a pending order to a terminal status. Repeating it on a
	// terminal order returns the recorded state with Changed=false.
	Transition(ctx context.Context, id uuid.UUID, externalRef string, update model.StatusUpdate) (model.TransitionResult, error)

	// Get returns an order after checking the requester may see it.
	Get(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.Order, error)

	// Find returns an order without an ownership check, for internal callers.
	Find(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// FindByIdempotencyKey returns the order created with the key, or nil.
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Order, error)
}

type store struct {
	repo     repository.OrderRepository
	limits   Limits
	validate *validator.Validate
	metrics  *telemetry.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

// NewStore creates an order store.
func NewStore(repo repository.OrderRepository, limits Limits, metrics *telemetry.Metrics, logger zerolog.Logger) Store {
	return &store{
		repo:     repo,
		limits:   limits,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics,
		now:      time.Now,
		logger:   logger.With().Str("component", "order-store").Logger(),
	}
}

// Create checks the payable floor and ceiling, then persists the order as pending.
func (s *store) Create(ctx context.Context, in model.NewOrder) (*model.Order, error) {
	contact := NormalizeContact(in.Contact)
	if err := s.validate.Struct(contact); err != nil {
		s.logger.Debug().Err(err).Msg("invalid customer contact")
		return nil, model.ErrInvalidContact
	}

	if len(in.Items) == 0 {
		return nil, model.ErrEmptySelection
	}

	subtotal := pricing.Subtotal(in.Items)
	if !subtotal.Equal(model.RoundMoney(in.Subtotal)) {
		return nil, fmt.Errorf("subtotal %s does not match line items %s", in.Subtotal, subtotal)
	}

	discountAmount := decimal.Zero
	if in.Discount != nil {
		discountAmount = in.Discount.Amount
	}
	total := model.ApplyDiscount(subtotal, discountAmount)

	if err := s.limits.Check(total); err != nil {
		s.logger.Warn().
			Str("total", total.StringFixed(model.CurrencyPrecision)).
			Str("reason", err.(*model.DomainError).Code).
			Msg("order total outside payable range")
		return nil, err
	}

	now := s.now().UTC()
	order := &model.Order{
		ID:             uuid.New(),
		OwnerUserID:    in.OwnerUserID,
		AccessToken:    uuid.NewString(),
		IdempotencyKey: in.IdempotencyKey,
		RequestHash:    in.RequestHash,
		Contact:        contact,
		Items:          in.Items,
		Subtotal:       subtotal,
		Discount:       in.Discount,
		Total:          total,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.metrics.RecordOrderValue(total)
	s.logger.Info().
		Str("order_id", order.ID.String()).
		Int("item_count", len(order.Items)).
		Str("total", total.StringFixed(model.CurrencyPrecision)).
		Msg("order created")

	return order, nil
}

// Check reports whether total lies within the limits.
func (l Limits) Check(total decimal.Decimal) error {
	if total.LessThan(l.MinimumTotal) {
		return model.ErrBelowMinimumAmount
	}
	if !l.MaximumTotal.IsZero() && total.GreaterThan(l.MaximumTotal) {
		return model.ErrAboveMaximumAmount
	}
	return nil
}

// Transition applies the compare-and-swap and classifies a miss.
func (s *store) Transition(ctx context.Context, id uuid.UUID, externalRef string, update model.StatusUpdate) (model.TransitionResult, error) {
	if !update.Status.IsTerminal() {
		return model.TransitionResult{}, model.ErrInvalidTransition
	}

	updated, err := s.repo.Transition(ctx, id, externalRef, update)
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("failed to transition order: %w", err)
	}

	if updated != nil {
		s.metrics.RecordTransition(string(update.Status), true)
		s.logger.Info().
			Str("order_id", id.String()).
			Str("status", string(updated.Status)).
			Str("evidence", update.Evidence).
			Msg("order transitioned")
		return model.TransitionResult{Order: updated, Changed: true}, nil
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("failed to read order after transition miss: %w", err)
	}
	if current == nil {
		return model.TransitionResult{}, model.ErrOrderNotFound
	}
	if current.Payment.SessionRef != externalRef {
		s.logger.Warn().
			Str("order_id", id.String()).
			Str("external_ref", externalRef).
			Msg("transition rejected on reference mismatch")
		return model.TransitionResult{}, model.ErrReferenceMismatch
	}

	s.metrics.RecordTransition(string(update.Status), false)
	s.logger.Debug().
		Str("order_id", id.String()).
		Str("status", string(current.Status)).
		Str("requested", string(update.Status)).
		Msg("transition is a no-op")

	return model.TransitionResult{Order: current, Changed: false}, nil
}

// Get returns an order the requester is allowed to see.
func (s *store) Get(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.Order, error) {
	order, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if !order.IsAccessibleBy(requester) {
		s.logger.Warn().
			Str("order_id", id.String()).
			Str("user_id", requester.UserID).
			Msg("order access denied")
		return nil, model.ErrForbidden
	}

	return order, nil
}

// Find returns an order without an ownership check.
func (s *store) Find(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, model.ErrOrderNotFound
	}
	return order, nil
}

// FindByIdempotencyKey returns the order created with key.
func (s *store) FindByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	order, err := s.repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get order by idempotency key: %w", err)
	}
	return order, nil
}

// NormalizeContact trims contact fields and lower-cases the email.
func NormalizeContact(c model.CustomerContact) model.CustomerContact {
	return model.CustomerContact{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.ToLower(strings.TrimSpace(c.Email)),
		Phone: strings.TrimSpace(c.Phone),
	}
}
