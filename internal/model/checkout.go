package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutRequest represents the request payload for submitting a checkout.
type CheckoutRequest struct {
	Contact      CustomerContact `json:"contact"`
	Selection    CartSelection   `json:"selection"`
	DiscountCode *string         `json:"discountCode,omitempty"`
}

// CheckoutResponse is returned once the order exists and a payment session was opened.
// AccessToken is only present for guest orders.
type CheckoutResponse struct {
	OrderID     uuid.UUID        `json:"orderId"`
	Status      OrderStatus      `json:"status"`
	Items       []LineItem       `json:"items"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
	Discount    *AppliedDiscount `json:"discount,omitempty"`
	Total       decimal.Decimal  `json:"total"`
	PaymentURL  string           `json:"paymentUrl,omitempty"`
	AccessToken string           `json:"accessToken,omitempty"`
	Replayed    bool             `json:"replayed,omitempty"`
}

// DiscountValidationRequest asks whether a code applies to a subtotal.
type DiscountValidationRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// DiscountValidationResponse is the read-only preview of a discount code.
type DiscountValidationResponse struct {
	Code     string          `json:"code"`
	Valid    bool            `json:"valid"`
	Percent  decimal.Decimal `json:"percent,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Total    decimal.Decimal `json:"total"`
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// OrderStatusResponse is what a polling client receives.
type OrderStatusResponse struct {
	OrderID         uuid.UUID   `json:"orderId"`
	Status          OrderStatus `json:"status"`
	Message         string      `json:"message"`
	PaymentURL      string      `json:"paymentUrl,omitempty"`
	FulfilledAt     *time.Time  `json:"fulfilledAt,omitempty"`
	PollIntervalMs  int64       `json:"pollIntervalMs,omitempty"`
	MaxPollAttempts int         `json:"maxPollAttempts,omitempty"`
}

// User facing status messages. A failed payment and an unconfirmed one are never conflated.
const (
	MessagePaymentConfirmed = "Payment confirmed. Your downloads are ready"
	MessagePaymentPending   = "We are still waiting to confirm your payment with the payment provider"
	MessagePaymentFailed    = "Your payment did not go through and nothing was charged"
)

// StatusMessage returns the user facing message for an order status.
func StatusMessage(status OrderStatus) string {
	switch status {
	case StatusCompleted:
		return MessagePaymentConfirmed
	case StatusFailed:
		return MessagePaymentFailed
	default:
		return MessagePaymentPending
	}
}
