// Package fulfillment releases purchased assets for settled orders and
// requests the customer's confirmation.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"digistore/internal/model"
	"digistore/internal/repository"
	"digistore/internal/telemetry"

	"github.com/rs/zerolog"
)

// Dispatcher runs fulfillment for orders that reached completed.
type Dispatcher interface {
	// OnSettled grants an entitlement for every line item and requests a
	// confirmation. Entitlements are idempotent, so repeating it is safe.
	// A failed notification is logged and retried later; it never fails settlement.
	OnSettled(ctx context.Context, order *model.Order) error
}

type dispatcher struct {
	orders        repository.OrderRepository
	entitlements  repository.EntitlementRepository
	notifier      Notifier
	notifyTimeout time.Duration
	metrics       *telemetry.Metrics
	now           func() time.Time
	logger        zerolog.Logger
}

// NewDispatcher creates a fulfillment dispatcher.
func NewDispatcher(
	orders repository.OrderRepository,
	entitlements repository.EntitlementRepository,
	notifier Notifier,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) Dispatcher {
	return &dispatcher{
		orders:        orders,
		entitlements:  entitlements,
		notifier:      notifier,
		notifyTimeout: 10 * time.Second,
		metrics:       metrics,
		now:           time.Now,
		logger:        logger.With().Str("component", "fulfillment").Logger(),
	}
}

func (d *dispatcher) OnSettled(ctx context.Context, order *model.Order) error {
	if order.Status != model.StatusCompleted {
		return fmt.Errorf("order %s is %s, not completed", order.ID, order.Status)
	}

	log := d.logger.With().Str("order_id", order.ID.String()).Logger()

	if order.FulfilledAt == nil {
		if err := d.grant(ctx, order); err != nil {
			d.metrics.RecordFulfillment("error")
			log.Error().Err(err).Msg("failed to grant entitlements")
			return err
		}
		d.metrics.RecordFulfillment("granted")
	}

	if order.NotifiedAt == nil {
		d.notify(ctx, order, log)
	}

	return nil
}

func (d *dispatcher) grant(ctx context.Context, order *model.Order) error {
	now := d.now().UTC()
	entitlements := make([]model.Entitlement, 0, len(order.Items))
	for i, item := range order.Items {
		entitlements = append(entitlements, model.Entitlement{
			OrderID:        order.ID,
			ItemIndex:      i,
			AssetReference: item.AssetReference,
			GrantedAt:      now,
		})
	}

	inserted, err := d.entitlements.Grant(ctx, entitlements)
	if err != nil {
		return fmt.Errorf("failed to grant entitlements: %w", err)
	}
	if err := d.orders.MarkFulfilled(ctx, order.ID, now); err != nil {
		return fmt.Errorf("failed to mark order fulfilled: %w", err)
	}

	d.logger.Info().
		Str("order_id", order.ID.String()).
		Int("granted", inserted).
		Int("items", len(order.Items)).
		Msg("entitlements granted")
	return nil
}

func (d *dispatcher) notify(ctx context.Context, order *model.Order, log zerolog.Logger) {
	nctx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
	defer cancel()

	if err := d.notifier.SendOrderConfirmation(nctx, order); err != nil {
		d.metrics.RecordNotification("error")
		log.Warn().Err(err).Msg("order confirmation not sent, will retry")
		return
	}
	d.metrics.RecordNotification("sent")

	if err := d.orders.MarkNotified(ctx, order.ID, d.now().UTC()); err != nil {
		log.Error().Err(err).Msg("failed to mark order notified")
	}
}
