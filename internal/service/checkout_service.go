package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"digistore/internal/discount"
	"digistore/internal/model"
	"digistore/internal/order"
	"digistore/internal/payment"
	"digistore/internal/pricing"
	"digistore/internal/repository"
	"digistore/internal/telemetry"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// checkoutService implements CheckoutService.
type checkoutService struct {
	catalogRepo repository.CatalogRepository
	resolver    *pricing.Resolver
	ledger      discount.Ledger
	orders      order.Store
	payments    payment.Orchestrator
	limits      order.Limits
	validate    *validator.Validate
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(
	catalogRepo repository.CatalogRepository,
	resolver *pricing.Resolver,
	ledger discount.Ledger,
	orders order.Store,
	payments payment.Orchestrator,
	limits order.Limits,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) CheckoutService {
	return &checkoutService{
		catalogRepo: catalogRepo,
		resolver:    resolver,
		ledger:      ledger,
		orders:      orders,
		payments:    payments,
		limits:      limits,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		metrics:     metrics,
		logger:      logger.With().Str("service", "checkout").Logger(),
	}
}

// Price fetches a catalog snapshot for the selection and resolves it.
func (s *checkoutService) Price(ctx context.Context, selection model.CartSelection) (model.PricedSelection, error) {
	ids := selection.ProductIDs()
	if len(ids) == 0 {
		return model.PricedSelection{}, model.ErrEmptySelection
	}

	products, err := s.catalogRepo.GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Error().Err(err).Int("product_count", len(ids)).Msg("failed to load catalog snapshot")
		return model.PricedSelection{}, fmt.Errorf("failed to load products: %w", err)
	}

	priced, err := s.resolver.Resolve(selection, pricing.NewCatalog(products))
	if err != nil {
		s.logger.Debug().Err(err).Msg("selection rejected")
		return model.PricedSelection{}, err
	}

	return priced, nil
}

// ValidateDiscount reports whether code applies to subtotal and what it would take off.
func (s *checkoutService) ValidateDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*model.DiscountValidationResponse, error) {
	if subtotal.IsNegative() {
		return nil, model.ErrInvalidPrice
	}
	subtotal = model.RoundMoney(subtotal)

	validation, err := s.ledger.Validate(ctx, code, subtotal)
	if err != nil {
		return nil, err
	}

	resp := &model.DiscountValidationResponse{
		Code:     model.NormalizeDiscountCode(code),
		Valid:    validation.Valid(),
		Subtotal: subtotal,
		Amount:   decimal.Zero,
		Total:    subtotal,
	}
	if !validation.Valid() {
		resp.Reason = validation.Rejection.Code
		resp.Message = validation.Rejection.Message
		return resp, nil
	}

	resp.Percent = validation.Discount.Percent
	resp.Amount = validation.Discount.Amount
	resp.Total = model.ApplyDiscount(subtotal, validation.Discount.Amount)
	return resp, nil
}

// Submit runs resolve, discount reservation, order creation and session creation.
// A reserved discount unit is given back when no order is created or the gateway
// refuses the session.
func (s *checkoutService) Submit(ctx context.Context, req *model.CheckoutRequest, requester model.Requester, idempotencyKey string) (*model.CheckoutResponse, error) {
	if req == nil {
		return nil, model.ErrEmptySelection
	}

	contact := order.NormalizeContact(req.Contact)
	fingerprint, err := requestHash(requester, contact, req)
	if err != nil {
		s.metrics.RecordCheckout("error")
		return nil, err
	}

	var keyPtr *string
	if idempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			s.metrics.RecordCheckout("error")
			return nil, err
		}
		if existing != nil {
			return s.replay(ctx, existing, requester, fingerprint)
		}
		keyPtr = &idempotencyKey
	}

	if err := s.validate.Struct(contact); err != nil {
		s.logger.Debug().Err(err).Msg("invalid customer contact")
		s.metrics.RecordCheckout("rejected")
		return nil, model.ErrInvalidContact
	}

	priced, err := s.Price(ctx, req.Selection)
	if err != nil {
		s.metrics.RecordCheckout(checkoutOutcome(err))
		return nil, err
	}

	applied, err := s.reserveDiscount(ctx, req.DiscountCode, priced.Subtotal)
	if err != nil {
		s.metrics.RecordCheckout(checkoutOutcome(err))
		return nil, err
	}

	var owner *string
	if requester.UserID != "" {
		userID := requester.UserID
		owner = &userID
	}

	created, err := s.orders.Create(ctx, model.NewOrder{
		OwnerUserID:    owner,
		IdempotencyKey: keyPtr,
		RequestHash:    fingerprint,
		Contact:        contact,
		Items:          priced.Items,
		Subtotal:       priced.Subtotal,
		Discount:       applied,
	})
	if err != nil {
		s.release(ctx, applied)
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			existing, findErr := s.orders.FindByIdempotencyKey(ctx, idempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return s.replay(ctx, existing, requester, fingerprint)
			}
		}
		s.metrics.RecordCheckout(checkoutOutcome(err))
		return nil, err
	}

	session, err := s.payments.CreateSession(ctx, created.ID)
	if err != nil {
		if errors.Is(err, model.ErrGatewayUnavailable) {
			s.release(ctx, applied)
		}
		s.logger.Warn().Err(err).Str("order_id", created.ID.String()).Msg("payment session not opened")
		s.metrics.RecordCheckout(checkoutOutcome(err))
		return nil, err
	}

	s.metrics.RecordCheckout("created")
	s.logger.Info().
		Str("order_id", created.ID.String()).
		Bool("guest", created.OwnerUserID == nil).
		Bool("discounted", applied != nil).
		Msg("checkout submitted")

	resp := newCheckoutResponse(created)
	resp.PaymentURL = session.PaymentURL
	return resp, nil
}

// reserveDiscount validates and reserves code. The payable range is checked
// before the reservation so a rejected total never consumes a unit.
func (s *checkoutService) reserveDiscount(ctx context.Context, code *string, subtotal decimal.Decimal) (*model.AppliedDiscount, error) {
	normalized := ""
	if code != nil {
		normalized = model.NormalizeDiscountCode(*code)
	}
	if normalized == "" {
		return nil, s.limits.Check(subtotal)
	}

	validation, err := s.ledger.Validate(ctx, normalized, subtotal)
	if err != nil {
		return nil, err
	}
	if !validation.Valid() {
		return nil, validation.Rejection
	}

	if err := s.limits.Check(model.ApplyDiscount(subtotal, validation.Discount.Amount)); err != nil {
		return nil, err
	}

	reservation, err := s.ledger.Reserve(ctx, normalized, subtotal)
	if err != nil {
		return nil, err
	}
	if !reservation.Reserved() {
		return nil, model.ErrRejectedConcurrently
	}

	return reservation.Discount, nil
}

func (s *checkoutService) release(ctx context.Context, applied *model.AppliedDiscount) {
	if applied == nil {
		return
	}
	s.ledger.Release(context.WithoutCancel(ctx), applied.Code)
}

// replay answers a repeated submission with the order it already created.
// Only the same requester sending the same body may replay a key, and the
// guest access token is never handed out again.
func (s *checkoutService) replay(ctx context.Context, existing *model.Order, requester model.Requester, fingerprint string) (*model.CheckoutResponse, error) {
	if existing.OwnerUserID != nil && !existing.IsAccessibleBy(requester) {
		s.logger.Warn().Str("order_id", existing.ID.String()).Msg("idempotency key reused by another user")
		s.metrics.RecordCheckout("rejected")
		return nil, model.ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(existing.RequestHash), []byte(fingerprint)) != 1 {
		s.logger.Warn().Str("order_id", existing.ID.String()).Msg("idempotency key reused with a different request")
		s.metrics.RecordCheckout("rejected")
		return nil, model.ErrIdempotencyKeyReused
	}

	s.metrics.RecordCheckout("replayed")
	s.logger.Info().Str("order_id", existing.ID.String()).Str("status", string(existing.Status)).Msg("checkout replayed")

	switch existing.Status {
	case model.StatusFailed:
		return nil, model.ErrGatewayUnavailable
	case model.StatusPending:
		session, err := s.payments.CreateSession(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		resp := newCheckoutResponse(existing)
		resp.PaymentURL = session.PaymentURL
		resp.AccessToken = ""
		resp.Replayed = true
		return resp, nil
	default:
		resp := newCheckoutResponse(existing)
		resp.AccessToken = ""
		resp.Replayed = true
		return resp, nil
	}
}

// requestHash fingerprints who submitted a checkout and what they asked for.
func requestHash(requester model.Requester, contact model.CustomerContact, req *model.CheckoutRequest) (string, error) {
	code := ""
	if req.DiscountCode != nil {
		code = model.NormalizeDiscountCode(*req.DiscountCode)
	}
	payload, err := json.Marshal(struct {
		UserID    string                `json:"userId"`
		Contact   model.CustomerContact `json:"contact"`
		Selection model.CartSelection   `json:"selection"`
		Code      string                `json:"code"`
	}{requester.UserID, contact, req.Selection, code})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint checkout request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func newCheckoutResponse(o *model.Order) *model.CheckoutResponse {
	resp := &model.CheckoutResponse{
		OrderID:    o.ID,
		Status:     o.Status,
		Items:      o.Items,
		Subtotal:   o.Subtotal,
		Discount:   o.Discount,
		Total:      o.Total,
		PaymentURL: o.Payment.PaymentURL,
	}
	if o.OwnerUserID == nil {
		resp.AccessToken = o.AccessToken
	}
	return resp
}

func checkoutOutcome(err error) string {
	switch {
	case errors.Is(err, model.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, model.ErrRejectedConcurrently):
		return "rejected_concurrently"
	}
	if _, ok := model.AsDomainError(err); ok {
		return "rejected"
	}
	return "error"
}
