package service

import (
	"context"
	"errors"

	"digistore/internal/model"
	"digistore/internal/order"
	"digistore/internal/payment"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// orderService implements OrderService.
type orderService struct {
	orders   order.Store
	payments payment.Orchestrator
	policy   payment.PollPolicy
	logger   zerolog.Logger
}

// NewOrderService creates a new order service. policy is advertised to polling clients.
func NewOrderService(orders order.Store, payments payment.Orchestrator, policy payment.PollPolicy, logger zerolog.Logger) OrderService {
	return &orderService{
		orders:   orders,
		payments: payments,
		policy:   policy,
		logger:   logger.With().Str("service", "order").Logger(),
	}
}

// Get retrieves an order the requester may see.
func (s *orderService) Get(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.Order, error) {
	return s.orders.Get(ctx, id, requester)
}

// Status pulls the gateway's view of a pending order before answering. When the
// gateway cannot be reached the order is reported as still pending.
func (s *orderService) Status(ctx context.Context, id uuid.UUID, requester model.Requester) (*model.OrderStatusResponse, error) {
	ord, err := s.orders.Get(ctx, id, requester)
	if err != nil {
		return nil, err
	}

	if ord.Status == model.StatusPending && ord.Payment.SessionRef != "" {
		reconciled, err := s.payments.Reconcile(ctx, id)
		switch {
		case err == nil:
			ord = reconciled
		case errors.Is(err, payment.ErrStatusUnavailable):
			s.logger.Warn().Err(err).Str("order_id", id.String()).Msg("gateway status unavailable, reporting pending")
		default:
			s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to reconcile order")
			return nil, err
		}
	}

	resp := &model.OrderStatusResponse{
		OrderID:     ord.ID,
		Status:      ord.Status,
		Message:     model.StatusMessage(ord.Status),
		FulfilledAt: ord.FulfilledAt,
	}
	if ord.Status == model.StatusPending {
		resp.PaymentURL = ord.Payment.PaymentURL
		resp.PollIntervalMs = s.policy.IntervalMillis()
		resp.MaxPollAttempts = s.policy.MaxAttempts
	}

	return resp, nil
}

// CreateSession checks access and then opens or returns the order's payment session.
func (s *orderService) CreateSession(ctx context.Context, id uuid.UUID, requester model.Requester) (payment.SessionResult, error) {
	if _, err := s.orders.Get(ctx, id, requester); err != nil {
		return payment.SessionResult{}, err
	}
	return s.payments.CreateSession(ctx, id)
}
