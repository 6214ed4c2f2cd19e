// Package download decides whether a requester may fetch a purchased asset
// and issues a short-lived URL when they may.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digistore/internal/model"
	"digistore/internal/order"
	"digistore/internal/repository"
	"digistore/internal/storage"
	"digistore/internal/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Grant is a signed URL for one line item's asset.
type Grant struct {
	OrderID   uuid.UUID `json:"orderId"`
	ItemIndex int       `json:"itemIndex"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Authorizer issues download URLs to the owners of settled orders.
type Authorizer interface {
	Authorize(ctx context.Context, orderID uuid.UUID, itemIndex int, requester model.Requester) (Grant, error)
}

type authorizer struct {
	orders       order.Store
	entitlements repository.EntitlementRepository
	signer       storage.Signer
	ttl          time.Duration
	metrics      *telemetry.Metrics
	now          func() time.Time
	logger       zerolog.Logger
}

// NewAuthorizer creates a download authorizer issuing URLs valid for ttl.
func NewAuthorizer(
	orders order.Store,
	entitlements repository.EntitlementRepository,
	signer storage.Signer,
	ttl time.Duration,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) Authorizer {
	if ttl <= 0 {
		ttl = storage.DefaultTTL
	}
	return &authorizer{
		orders:       orders,
		entitlements: entitlements,
		signer:       signer,
		ttl:          ttl,
		metrics:      metrics,
		now:          time.Now,
		logger:       logger.With().Str("component", "download").Logger(),
	}
}

// Authorize denies unless the requester owns the order, the order is completed
// and the item's entitlement was granted. URLs are never stored.
func (a *authorizer) Authorize(ctx context.Context, orderID uuid.UUID, itemIndex int, requester model.Requester) (Grant, error) {
	grant, err := a.authorize(ctx, orderID, itemIndex, requester)

	var de *model.DomainError
	switch {
	case err == nil:
		a.metrics.RecordDownload("granted")
	case errors.As(err, &de):
		a.metrics.RecordDownload("denied")
		a.logger.Debug().
			Str("order_id", orderID.String()).
			Int("item_index", itemIndex).
			Str("reason", de.Code).
			Msg("download denied")
	default:
		a.metrics.RecordDownload("error")
	}
	return grant, err
}

func (a *authorizer) authorize(ctx context.Context, orderID uuid.UUID, itemIndex int, requester model.Requester) (Grant, error) {
	o, err := a.orders.Get(ctx, orderID, requester)
	if err != nil {
		return Grant{}, err
	}
	// Admins may read any order but only the buyer may download it.
	if !o.IsOwnedBy(requester) {
		return Grant{}, model.ErrForbidden
	}
	if o.Status != model.StatusCompleted {
		return Grant{}, model.ErrOrderNotSettled
	}
	if itemIndex < 0 || itemIndex >= len(o.Items) {
		return Grant{}, model.ErrItemNotFound
	}

	entitlement, err := a.entitlements.Get(ctx, orderID, itemIndex)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to get entitlement: %w", err)
	}
	if entitlement == nil {
		return Grant{}, model.ErrNotEntitled
	}

	issuedAt := a.now()
	url, err := a.signer.SignDownloadURL(ctx, entitlement.AssetReference, a.ttl)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to sign download: %w", err)
	}

	a.logger.Info().
		Str("order_id", orderID.String()).
		Int("item_index", itemIndex).
		Str("user_id", requester.UserID).
		Msg("download authorized")

	return Grant{
		OrderID:   orderID,
		ItemIndex: itemIndex,
		Title:     o.Items[itemIndex].Title,
		URL:       url,
		ExpiresAt: issuedAt.Add(a.ttl).UTC(),
	}, nil
}
