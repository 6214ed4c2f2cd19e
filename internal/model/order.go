package model

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusFailed    OrderStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CustomerContact holds the buyer's contact details.
type CustomerContact struct {
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"required,min=8,max=20"`
}

// PaymentSession links an order to the gateway's session and invoice.
type PaymentSession struct {
	SessionRef string     `json:"sessionRef,omitempty"`
	InvoiceRef string     `json:"invoiceRef,omitempty"`
	PaymentURL string     `json:"paymentUrl,omitempty"`
	LastStatus string     `json:"lastStatus,omitempty"`
	ClaimedAt  *time.Time `json:"-"`
}

// Order is the durable record of an attempted purchase.
type Order struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	OwnerUserID    *string          `json:"ownerUserId,omitempty" db:"owner_user_id"`
	AccessToken    string           `json:"-" db:"access_token"`
	IdempotencyKey *string          `json:"-" db:"idempotency_key"`
	RequestHash    string           `json:"-" db:"request_hash"`
	Contact        CustomerContact  `json:"contact"`
	Items          []LineItem       `json:"items"`
	Subtotal       decimal.Decimal  `json:"subtotal" db:"subtotal"`
	Discount       *AppliedDiscount `json:"discount,omitempty"`
	Total          decimal.Decimal  `json:"total" db:"total"`
	Status         OrderStatus      `json:"status" db:"status"`
	Payment        PaymentSession   `json:"payment"`
	Evidence       string           `json:"-" db:"evidence"`
	FulfilledAt    *time.Time       `json:"fulfilledAt,omitempty" db:"fulfilled_at"`
	NotifiedAt     *time.Time       `json:"-" db:"notified_at"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time        `json:"updatedAt" db:"updated_at"`
}

// DiscountAmount returns the applied discount amount or zero.
func (o *Order) DiscountAmount() decimal.Decimal {
	if o.Discount == nil {
		return decimal.Zero
	}
	return o.Discount.Amount
}

// IsAccessibleBy reports whether the requester may read the order.
// Admins see everything; owned orders need the owning user; guest orders need the access token.
func (o *Order) IsAccessibleBy(r Requester) bool {
	return r.IsAdmin() || o.IsOwnedBy(r)
}

// IsOwnedBy reports whether the requester is the buyer: the owning user, or
// the holder of a guest order's access token. The admin role does not count.
func (o *Order) IsOwnedBy(r Requester) bool {
	if o.OwnerUserID != nil {
		return r.UserID != "" && r.UserID == *o.OwnerUserID
	}
	if r.OrderToken == "" || o.AccessToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.OrderToken), []byte(o.AccessToken)) == 1
}

// NewOrder carries the inputs of Store.Create.
type NewOrder struct {
	OwnerUserID    *string
	IdempotencyKey *string
	RequestHash    string
	Contact        CustomerContact
	Items          []LineItem
	Subtotal       decimal.Decimal
	Discount       *AppliedDiscount
}

// StatusUpdate is what a transition writes besides the status itself.
type StatusUpdate struct {
	Status        OrderStatus
	GatewayStatus string
	InvoiceRef    string
	Evidence      string
}

// TransitionResult reports the state after a transition attempt.
type TransitionResult struct {
	Order   *Order
	Changed bool
}

// Role is the requester's authorization level.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Requester identifies who is asking for an order.
type Requester struct {
	UserID     string
	Role       Role
	OrderToken string
}

// IsAdmin reports whether the requester is an administrator.
func (r Requester) IsAdmin() bool {
	return r.Role == RoleAdmin
}

// Entitlement records that a line item's asset is downloadable under an order.
type Entitlement struct {
	OrderID        uuid.UUID `json:"orderId" db:"order_id"`
	ItemIndex      int       `json:"itemIndex" db:"item_index"`
	AssetReference string    `json:"-" db:"asset_reference"`
	GrantedAt      time.Time `json:"grantedAt" db:"granted_at"`
}
