// Package gateway adapts external payment providers to a narrow session contract.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"digistore/internal/model"

	"github.com/shopspring/decimal"
)

// Status is the provider-neutral payment state of a session.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

var (
	// ErrInvalidSignature is returned when a notification fails verification.
	ErrInvalidSignature = errors.New("invalid notification signature")

	// ErrMalformedNotification is returned when a verified notification cannot be parsed.
	ErrMalformedNotification = errors.New("malformed notification payload")

	// ErrSessionNotFound is returned when the provider does not know the session.
	ErrSessionNotFound = errors.New("payment session not found")

	// ErrUnavailable is returned when calls are short-circuited after repeated failures.
	ErrUnavailable = errors.New("payment gateway temporarily unavailable")
)

// LineSummary is one product line shown on the provider's payment page.
type LineSummary struct {
	Name       string
	UnitAmount decimal.Decimal
	Quantity   int
}

// SessionRequest carries what a provider needs to open a payment session.
type SessionRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Lines         []LineSummary
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

// Session is a created payment session.
type Session struct {
	Ref        string
	PaymentURL string
	InvoiceRef string
	RawStatus  string
	ExpiresAt  *time.Time
}

// SessionStatus is the provider's authoritative view of a session.
type SessionStatus struct {
	Status     Status
	RawStatus  string
	InvoiceRef string
}

// Notification identifies the session a callback refers to. Its content is
// never trusted for state; callers re-read the session from the provider.
type Notification struct {
	EventType  string
	OrderID    string
	SessionRef string
	InvoiceRef string
}

// Gateway creates and inspects payment sessions.
type Gateway interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// CreatePaymentSession opens a hosted payment session.
	CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error)

	// GetSessionStatus fetches the current status of a session.
	GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error)
}

// NotificationParser verifies and decodes provider callbacks.
type NotificationParser interface {
	ParseNotification(header http.Header, body []byte) (Notification, error)
}

// Provider is a gateway that also accepts callbacks.
type Provider interface {
	Gateway
	NotificationParser
}

// OrderStatus maps a gateway status to the order status it settles into.
func (s Status) OrderStatus() model.OrderStatus {
	switch s {
	case StatusPaid:
		return model.StatusCompleted
	case StatusFailed:
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

// ChargeLines returns the lines to present so that their sum equals the amount
// to charge. When a discount makes the item prices disagree with the amount, a
// single order line carrying the amount is used instead.
func ChargeLines(req SessionRequest, maxLines int) []LineSummary {
	sum := decimal.Zero
	for _, line := range req.Lines {
		sum = sum.Add(line.UnitAmount.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	if len(req.Lines) > 0 && len(req.Lines) <= maxLines && sum.Equal(req.Amount) {
		return req.Lines
	}

	return []LineSummary{{
		Name:       fmt.Sprintf("Order %s", shortID(req.OrderID)),
		UnitAmount: req.Amount,
		Quantity:   1,
	}}
}

// TruncateName shortens a product name to max runes.
func TruncateName(name string, max int) string {
	runes := []rune(name)
	if len(runes) <= max {
		return name
	}
	return string(runes[:max])
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
