package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const stripeMaxLineItems = 100

// StripeConfig configures the Stripe Checkout provider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	// MinorUnitExponent is the number of decimal places of Currency.
	MinorUnitExponent int32
}

type stripeGateway struct {
	sc            *client.API
	webhookSecret string
	currency      string
	exponent      int32
	logger        zerolog.Logger
}

// NewStripe creates a Stripe Checkout provider.
func NewStripe(cfg StripeConfig, logger zerolog.Logger) Provider {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "omr"
	}
	exponent := cfg.MinorUnitExponent
	if exponent == 0 {
		exponent = 3
	}

	return &stripeGateway{
		sc:            sc,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		exponent:      exponent,
		logger:        logger.With().Str("gateway", "stripe").Logger(),
	}
}

// Name identifies the provider.
func (g *stripeGateway) Name() string {
	return "stripe"
}

// CreatePaymentSession opens a hosted Checkout session in payment mode.
func (g *stripeGateway) CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error) {
	lines := ChargeLines(req, stripeMaxLineItems)
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(lines))
	for _, line := range lines {
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(g.minorUnits(line.UnitAmount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
			Quantity: stripe.Int64(int64(line.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems:         items,
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("order_id", req.OrderID).Msg("failed to create checkout session")
		return Session{}, fmt.Errorf("stripe checkout session: %w", err)
	}

	out := Session{
		Ref:        session.ID,
		PaymentURL: session.URL,
		RawStatus:  string(session.Status),
	}
	if session.PaymentIntent != nil {
		out.InvoiceRef = session.PaymentIntent.ID
	}
	if session.ExpiresAt > 0 {
		expires := time.Unix(session.ExpiresAt, 0).UTC()
		out.ExpiresAt = &expires
	}
	return out, nil
}

// GetSessionStatus retrieves the session and maps payment and lifecycle status.
func (g *stripeGateway) GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := g.sc.CheckoutSessions.Get(sessionRef, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return SessionStatus{}, ErrSessionNotFound
		}
		return SessionStatus{}, fmt.Errorf("stripe checkout session lookup: %w", err)
	}

	status := SessionStatus{
		Status:    mapStripeSession(session),
		RawStatus: fmt.Sprintf("%s/%s", session.Status, session.PaymentStatus),
	}
	if session.PaymentIntent != nil {
		status.InvoiceRef = session.PaymentIntent.ID
	}
	return status, nil
}

// ParseNotification verifies the Stripe-Signature header and extracts the
// checkout session the event refers to.
func (g *stripeGateway) ParseNotification(header http.Header, body []byte) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Notification{}, ErrInvalidSignature
	}

	notification := Notification{EventType: string(event.Type)}
	if !strings.HasPrefix(string(event.Type), "checkout.session.") || event.Data == nil {
		return notification, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Notification{}, ErrMalformedNotification
	}
	notification.OrderID = session.ClientReferenceID
	notification.SessionRef = session.ID
	return notification, nil
}

func (g *stripeGateway) minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(g.exponent).Round(0).IntPart()
}

func mapStripeSession(session *stripe.CheckoutSession) Status {
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return StatusPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		return StatusFailed
	default:
		return StatusPending
	}
}
