package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"digistore/internal/model"

	"github.com/rs/zerolog"
)

const (
	thawaniProductionURL = "https://checkout.thawani.om"
	thawaniSandboxURL    = "https://uatcheckout.thawani.om"

	thawaniMaxProducts   = 100
	thawaniMaxNameLength = 40
	thawaniMaxUnitAmount = 5_000_000_000
)

// ThawaniConfig configures the Thawani checkout client.
type ThawaniConfig struct {
	Production     bool
	BaseURL        string // overrides the environment default when set
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	HTTPClient     *http.Client
}

// thawaniGateway talks to the Thawani checkout REST API.
type thawaniGateway struct {
	checkoutURL    string
	apiURL         string
	secretKey      string
	publishableKey string
	webhookSecret  string
	client         *http.Client
	logger         zerolog.Logger
}

// NewThawani creates a Thawani checkout provider.
func NewThawani(cfg ThawaniConfig, logger zerolog.Logger) Provider {
	base := cfg.BaseURL
	if base == "" {
		base = thawaniSandboxURL
		if cfg.Production {
			base = thawaniProductionURL
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return &thawaniGateway{
		checkoutURL:    base,
		apiURL:         base + "/api/v1",
		secretKey:      cfg.SecretKey,
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
		client:         client,
		logger:         logger.With().Str("gateway", "thawani").Logger(),
	}
}

type thawaniProduct struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
}

type thawaniSessionRequest struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Mode              string            `json:"mode"`
	Products          []thawaniProduct  `json:"products"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type thawaniEnvelope struct {
	Success     bool            `json:"success"`
	Code        int             `json:"code"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

type thawaniSession struct {
	SessionID         string `json:"session_id"`
	ClientReferenceID string `json:"client_reference_id"`
	Invoice           string `json:"invoice"`
	PaymentStatus     string `json:"payment_status"`
	ExpireAt          string `json:"expire_at"`
}

type thawaniWebhook struct {
	EventType string `json:"event_type"`
	Data      struct {
		SessionID         string `json:"session_id"`
		ClientReferenceID string `json:"client_reference_id"`
		Invoice           string `json:"invoice"`
		CheckoutInvoice   string `json:"checkout_invoice"`
	} `json:"data"`
}

// Name identifies the provider.
func (g *thawaniGateway) Name() string {
	return "thawani"
}

// CreatePaymentSession opens a checkout session. Amounts are sent in baisa.
func (g *thawaniGateway) CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error) {
	lines := ChargeLines(req, thawaniMaxProducts)
	products := make([]thawaniProduct, 0, len(lines))
	for _, line := range lines {
		amount := model.ToMinorUnits(line.UnitAmount)
		if amount < 1 || amount > thawaniMaxUnitAmount {
			return Session{}, fmt.Errorf("unit amount %d baisa out of range for %q", amount, line.Name)
		}
		products = append(products, thawaniProduct{
			Name:       TruncateName(line.Name, thawaniMaxNameLength),
			UnitAmount: amount,
			Quantity:   line.Quantity,
		})
	}

	payload := thawaniSessionRequest{
		ClientReferenceID: req.OrderID,
		Mode:              "payment",
		Products:          products,
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
		Metadata:          req.Metadata,
	}

	var session thawaniSession
	if err := g.do(ctx, http.MethodPost, "/checkout/session", payload, &session); err != nil {
		return Session{}, err
	}

	g.logger.Info().
		Str("order_id", req.OrderID).
		Str("session_id", session.SessionID).
		Msg("checkout session created")

	out := Session{
		Ref:        session.SessionID,
		PaymentURL: g.paymentURL(session.SessionID),
		InvoiceRef: session.Invoice,
		RawStatus:  session.PaymentStatus,
	}
	if expires, err := time.Parse(time.RFC3339, session.ExpireAt); err == nil {
		out.ExpiresAt = &expires
	}
	return out, nil
}

// GetSessionStatus fetches the session and maps unpaid, paid and cancelled.
func (g *thawaniGateway) GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error) {
	var session thawaniSession
	if err := g.do(ctx, http.MethodGet, "/checkout/session/"+url.PathEscape(sessionRef), nil, &session); err != nil {
		return SessionStatus{}, err
	}

	return SessionStatus{
		Status:     mapThawaniStatus(session.PaymentStatus),
		RawStatus:  session.PaymentStatus,
		InvoiceRef: session.Invoice,
	}, nil
}

// ParseNotification verifies the HMAC-SHA256 signature over "body-timestamp".
func (g *thawaniGateway) ParseNotification(header http.Header, body []byte) (Notification, error) {
	timestamp := header.Get("thawani-timestamp")
	signature := header.Get("thawani-signature")
	if g.webhookSecret == "" || timestamp == "" || signature == "" {
		return Notification{}, ErrInvalidSignature
	}

	if !hmac.Equal([]byte(SignThawani(g.webhookSecret, body, timestamp)), []byte(signature)) {
		return Notification{}, ErrInvalidSignature
	}

	var payload thawaniWebhook
	if err := json.Unmarshal(body, &payload); err != nil || payload.EventType == "" {
		return Notification{}, ErrMalformedNotification
	}

	invoice := payload.Data.CheckoutInvoice
	if invoice == "" {
		invoice = payload.Data.Invoice
	}

	return Notification{
		EventType:  payload.EventType,
		OrderID:    payload.Data.ClientReferenceID,
		SessionRef: payload.Data.SessionID,
		InvoiceRef: invoice,
	}, nil
}

// SignThawani computes the hex signature Thawani sends with a webhook.
func SignThawani(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("-"))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *thawaniGateway) paymentURL(sessionID string) string {
	return fmt.Sprintf("%s/pay/%s?key=%s", g.checkoutURL, url.PathEscape(sessionID), url.QueryEscape(g.publishableKey))
}

func (g *thawaniGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("thawani-api-key", g.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Error().Err(err).Str("path", path).Msg("thawani request failed")
		return fmt.Errorf("thawani request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read thawani response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}

	var envelope thawaniEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode thawani response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !envelope.Success {
		g.logger.Warn().
			Int("status", resp.StatusCode).
			Int("code", envelope.Code).
			Str("description", envelope.Description).
			Str("path", path).
			Msg("thawani rejected request")
		return fmt.Errorf("thawani error %d: %s", envelope.Code, envelope.Description)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode thawani session: %w", err)
	}
	return nil
}

func mapThawaniStatus(raw string) Status {
	switch raw {
	case "paid":
		return StatusPaid
	case "cancelled", "expired", "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}
