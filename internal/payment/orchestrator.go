// Package payment drives orders through the external payment gateway:
// creating at most one session per order and reconciling its outcome.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"digistore/internal/gateway"
	"digistore/internal/model"
	"digistore/internal/order"
	"digistore/internal/repository"
	"digistore/internal/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrStatusUnavailable is returned by Reconcile when the gateway could not be asked.
var ErrStatusUnavailable = errors.New("payment status temporarily unavailable")

// Settler is notified once for every order that reaches completed.
type Settler interface {
	OnSettled(ctx context.Context, order *model.Order) error
}

// Config holds orchestration settings.
type Config struct {
	GatewayTimeout time.Duration
	// ClaimTTL is how long a session-creation claim blocks others before it is considered abandoned.
	ClaimTTL   time.Duration
	SuccessURL string
	CancelURL  string
}

// SessionResult is the payment session bound to an order.
type SessionResult struct {
	OrderID    uuid.UUID `json:"orderId"`
	SessionRef string    `json:"sessionRef"`
	PaymentURL string    `json:"paymentUrl"`
	Existing   bool      `json:"existing"`
}

// Orchestrator creates payment sessions and applies gateway outcomes to orders.
type Orchestrator interface {
	// CreateSession opens a payment session for a pending order. A second call
	// for an order that already has a session returns the existing one.
	CreateSession(ctx context.Context, orderID uuid.UUID) (SessionResult, error)

	// Reconcile asks the gateway for the session's status and applies it.
	Reconcile(ctx context.Context, orderID uuid.UUID) (*model.Order, error)

	// HandleNotification verifies a gateway callback and reconciles the order it names.
	HandleNotification(ctx context.Context, header http.Header, body []byte) error

	// Expire fails a pending order the gateway does not report as paid.
	Expire(ctx context.Context, orderID uuid.UUID) (*model.Order, error)
}

type orchestrator struct {
	store    order.Store
	repo     repository.OrderRepository
	provider gateway.Provider
	settler  Settler
	cfg      Config
	flight   singleflight.Group
	metrics  *telemetry.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

// NewOrchestrator creates a payment orchestrator.
func NewOrchestrator(
	store order.Store,
	repo repository.OrderRepository,
	provider gateway.Provider,
	settler Settler,
	cfg Config,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) Orchestrator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * cfg.GatewayTimeout
	}

	return &orchestrator{
		store:    store,
		repo:     repo,
		provider: provider,
		settler:  settler,
		cfg:      cfg,
		metrics:  metrics,
		now:      time.Now,
		logger:   logger.With().Str("component", "payment").Str("gateway", provider.Name()).Logger(),
	}
}

// CreateSession collapses concurrent calls for the same order in this process
// and relies on the session claim to exclude other processes. The shared work
// outlives any single caller; each caller stops waiting when its own ctx ends.
func (o *orchestrator) CreateSession(ctx context.Context, orderID uuid.UUID) (SessionResult, error) {
	ch := o.flight.DoChan(orderID.String(), func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ClaimTTL)
		defer cancel()
		return o.createSession(sctx, orderID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return SessionResult{}, res.Err
		}
		return res.Val.(SessionResult), nil
	case <-ctx.Done():
		return SessionResult{}, ctx.Err()
	}
}

func (o *orchestrator) createSession(ctx context.Context, orderID uuid.UUID) (SessionResult, error) {
	current, err := o.store.Find(ctx, orderID)
	if err != nil {
		return SessionResult{}, err
	}
	if existing, ok := existingSession(current); ok {
		return existing, nil
	}
	if current.Status != model.StatusPending {
		return SessionResult{}, model.ErrOrderNotPending
	}

	claimed, err := o.repo.ClaimSession(ctx, orderID, o.now().Add(-o.cfg.ClaimTTL))
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to claim session: %w", err)
	}
	if !claimed {
		latest, err := o.store.Find(ctx, orderID)
		if err != nil {
			return SessionResult{}, err
		}
		if existing, ok := existingSession(latest); ok {
			return existing, nil
		}
		if latest.Status != model.StatusPending {
			return SessionResult{}, model.ErrOrderNotPending
		}
		return SessionResult{}, model.ErrSessionInProgress
	}

	session, err := o.openSession(ctx, current)
	// Past this point the provider may hold a session; record the outcome even if the caller went away.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		o.failOnGatewayError(persistCtx, orderID, err)
		return SessionResult{}, model.ErrGatewayUnavailable
	}

	attached, err := o.repo.AttachSession(persistCtx, orderID, model.PaymentSession{
		SessionRef: session.Ref,
		InvoiceRef: session.InvoiceRef,
		PaymentURL: session.PaymentURL,
		LastStatus: session.RawStatus,
	})
	if err != nil {
		o.logger.Error().Err(err).
			Str("order_id", orderID.String()).
			Str("session_ref", session.Ref).
			Msg("payment session created but not recorded")
		return SessionResult{}, fmt.Errorf("failed to attach session: %w", err)
	}
	if attached == nil {
		latest, err := o.store.Find(persistCtx, orderID)
		if err != nil {
			return SessionResult{}, err
		}
		if existing, ok := existingSession(latest); ok {
			o.logger.Warn().
				Str("order_id", orderID.String()).
				Str("orphan_session_ref", session.Ref).
				Msg("order already had a session, discarding the new one")
			return existing, nil
		}
		return SessionResult{}, model.ErrOrderNotPending
	}

	o.logger.Info().
		Str("order_id", orderID.String()).
		Str("session_ref", session.Ref).
		Msg("payment session attached")

	return SessionResult{OrderID: orderID, SessionRef: session.Ref, PaymentURL: session.PaymentURL}, nil
}

func (o *orchestrator) openSession(ctx context.Context, ord *model.Order) (gateway.Session, error) {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	session, err := o.provider.CreatePaymentSession(gctx, o.sessionRequest(ord))
	o.metrics.RecordGatewayCall("create_session", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return gateway.Session{}, err
	}
	if session.Ref == "" || session.PaymentURL == "" {
		return gateway.Session{}, errors.New("gateway returned an incomplete session")
	}
	return session, nil
}

// failOnGatewayError moves the order to failed so that a retry always starts a new checkout.
func (o *orchestrator) failOnGatewayError(ctx context.Context, orderID uuid.UUID, cause error) {
	o.logger.Error().Err(cause).Str("order_id", orderID.String()).Msg("payment session creation failed")

	evidence := fmt.Sprintf("%s create_session: %v", o.provider.Name(), cause)
	if _, err := o.store.Transition(ctx, orderID, "", model.StatusUpdate{
		Status:   model.StatusFailed,
		Evidence: evidence,
	}); err != nil {
		o.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to mark order failed after gateway error")
		if rerr := o.repo.ReleaseSessionClaim(ctx, orderID); rerr != nil {
			o.logger.Error().Err(rerr).Str("order_id", orderID.String()).Msg("failed to release session claim")
		}
	}
}

func (o *orchestrator) sessionRequest(ord *model.Order) gateway.SessionRequest {
	lines := make([]gateway.LineSummary, 0, len(ord.Items))
	for _, item := range ord.Items {
		lines = append(lines, gateway.LineSummary{Name: item.Title, UnitAmount: item.UnitPrice, Quantity: 1})
	}

	return gateway.SessionRequest{
		OrderID:       ord.ID.String(),
		Amount:        ord.Total,
		Lines:         lines,
		SuccessURL:    withOrderID(o.cfg.SuccessURL, ord.ID),
		CancelURL:     withOrderID(o.cfg.CancelURL, ord.ID),
		CustomerEmail: ord.Contact.Email,
		Metadata: map[string]string{
			"order_id":       ord.ID.String(),
			"Customer name":  ord.Contact.Name,
			"Customer email": ord.Contact.Email,
			"Customer phone": ord.Contact.Phone,
		},
	}
}

// Reconcile never trusts the caller about payment; only the gateway's answer moves the order.
func (o *orchestrator) Reconcile(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	current, err := o.store.Find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() || current.Payment.SessionRef == "" {
		return current, nil
	}

	ref := current.Payment.SessionRef
	status, err := o.fetchStatus(ctx, ref)
	if err != nil {
		o.logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("could not fetch session status")
		return nil, fmt.Errorf("%w: %w", ErrStatusUnavailable, err)
	}

	if status.Status == gateway.StatusPending {
		if status.RawStatus != current.Payment.LastStatus {
			if err := o.repo.RecordGatewayStatus(ctx, orderID, status.RawStatus, status.InvoiceRef); err != nil {
				return nil, err
			}
			current.Payment.LastStatus = status.RawStatus
		}
		return current, nil
	}

	result, err := o.store.Transition(ctx, orderID, ref, model.StatusUpdate{
		Status:        status.Status.OrderStatus(),
		GatewayStatus: status.RawStatus,
		InvoiceRef:    status.InvoiceRef,
		Evidence:      fmt.Sprintf("%s status %s", o.provider.Name(), status.RawStatus),
	})
	if err != nil {
		return nil, err
	}

	if result.Changed && result.Order.Status == model.StatusCompleted {
		o.settle(ctx, result.Order)
	}

	return result.Order, nil
}

func (o *orchestrator) fetchStatus(ctx context.Context, ref string) (gateway.SessionStatus, error) {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	status, err := o.provider.GetSessionStatus(gctx, ref)
	o.metrics.RecordGatewayCall("get_status", outcome(err), time.Since(start).Seconds())
	return status, err
}

// settle runs fulfillment. Failures leave the order completed and are retried by the sweeper.
func (o *orchestrator) settle(ctx context.Context, ord *model.Order) {
	if o.settler == nil {
		return
	}
	if err := o.settler.OnSettled(context.WithoutCancel(ctx), ord); err != nil {
		o.logger.Error().Err(err).Str("order_id", ord.ID.String()).Msg("fulfillment failed, will retry")
	}
}

// HandleNotification returns an error only when the callback itself is not acceptable.
// Once verified, reconciliation problems are logged and left to polling and the sweeper.
func (o *orchestrator) HandleNotification(ctx context.Context, header http.Header, body []byte) error {
	n, err := o.provider.ParseNotification(header, body)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			o.logger.Warn().Msg("rejected notification with invalid signature")
			return model.ErrInvalidSignature
		}
		return err
	}

	log := o.logger.With().Str("event", n.EventType).Str("session_ref", n.SessionRef).Logger()

	target, err := o.resolveNotification(ctx, n)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve notification order")
		return nil
	}
	if target == nil {
		log.Debug().Msg("notification does not identify a known order")
		return nil
	}

	reconciled, err := o.Reconcile(ctx, target.ID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", target.ID.String()).Msg("reconcile after notification failed")
		return nil
	}

	log.Info().
		Str("order_id", reconciled.ID.String()).
		Str("status", string(reconciled.Status)).
		Msg("notification reconciled")
	return nil
}

func (o *orchestrator) resolveNotification(ctx context.Context, n gateway.Notification) (*model.Order, error) {
	if n.OrderID != "" {
		if id, err := uuid.Parse(n.OrderID); err == nil {
			found, err := o.repo.GetByID(ctx, id)
			if err != nil || found != nil {
				return found, err
			}
		}
	}
	if n.SessionRef != "" {
		return o.repo.GetBySessionRef(ctx, n.SessionRef)
	}
	return nil, nil
}

func (o *orchestrator) Expire(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	current, err := o.Reconcile(ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrSessionNotFound):
		if current, err = o.store.Find(ctx, orderID); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if current.Status != model.StatusPending {
		return current, nil
	}

	result, err := o.store.Transition(ctx, orderID, current.Payment.SessionRef, model.StatusUpdate{
		Status:   model.StatusFailed,
		Evidence: "expired",
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

func existingSession(o *model.Order) (SessionResult, bool) {
	if o.Payment.SessionRef == "" {
		return SessionResult{}, false
	}
	return SessionResult{
		OrderID:    o.ID,
		SessionRef: o.Payment.SessionRef,
		PaymentURL: o.Payment.PaymentURL,
		Existing:   true,
	}, true
}

func withOrderID(base string, id uuid.UUID) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("order_id", id.String())
	u.RawQuery = q.Encode()
	return u.String()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gateway.ErrUnavailable):
		return "short_circuited"
	default:
		return "error"
	}
}
