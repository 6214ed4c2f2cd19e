package model

import "errors"

// ErrorResponse represents a standardised error response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Standard error codes for API responses
const (
	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeMissingField      = "MISSING_FIELD"
	ErrCodeInvalidContact    = "INVALID_CONTACT"
	ErrCodeEmptySelection    = "EMPTY_SELECTION"
	ErrCodeTooManyItems      = "TOO_MANY_ITEMS"
	ErrCodeNoVariantSelected = "NO_VARIANT_SELECTED"
	ErrCodeUnknownVariant    = "UNKNOWN_VARIANT"
	ErrCodeProductNotFound   = "PRODUCT_NOT_FOUND"
	ErrCodeInvalidPrice      = "INVALID_PRICE"

	ErrCodeDiscountNotFound     = "DISCOUNT_NOT_FOUND"
	ErrCodeDiscountInactive     = "DISCOUNT_INACTIVE"
	ErrCodeDiscountNotYetValid  = "DISCOUNT_NOT_YET_VALID"
	ErrCodeDiscountExpired      = "DISCOUNT_EXPIRED"
	ErrCodeDiscountMinPurchase  = "DISCOUNT_MIN_PURCHASE"
	ErrCodeDiscountExhausted    = "DISCOUNT_EXHAUSTED"
	ErrCodeRejectedConcurrently = "DISCOUNT_REJECTED_CONCURRENTLY"
	ErrCodeBelowMinimumAmount   = "BELOW_MINIMUM_AMOUNT"
	ErrCodeAboveMaximumAmount   = "ABOVE_MAXIMUM_AMOUNT"
	ErrCodeOrderNotFound        = "ORDER_NOT_FOUND"
	ErrCodeReferenceMismatch    = "REFERENCE_MISMATCH"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeOrderNotPending      = "ORDER_NOT_PENDING"
	ErrCodeSessionInProgress    = "SESSION_IN_PROGRESS"
	ErrCodeIdempotencyKeyReused = "IDEMPOTENCY_KEY_REUSED"
	ErrCodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	ErrCodeOrderNotSettled      = "ORDER_NOT_SETTLED"
	ErrCodeItemNotFound         = "ITEM_NOT_FOUND"
	ErrCodeNotEntitled          = "NOT_ENTITLED"
	ErrCodeInvalidSignature     = "INVALID_SIGNATURE"
	ErrCodeUnauthorised         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// Domain errors for business logic
type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a domain error the user may retry.
func NewRetryableError(code, message string) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// AsDomainError unwraps err into a DomainError if it is one.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Input errors
var (
	ErrEmptySelection    = NewDomainError(ErrCodeEmptySelection, "Select at least one product")
	ErrTooManyItems      = NewDomainError(ErrCodeTooManyItems, "Too many items in the cart")
	ErrNoVariantSelected = NewDomainError(ErrCodeNoVariantSelected, "Select at least one language edition")
	ErrUnknownVariant    = NewDomainError(ErrCodeUnknownVariant, "The selected edition is not available for this product")
	ErrProductNotFound   = NewDomainError(ErrCodeProductNotFound, "One or more products not found")
	ErrInvalidPrice      = NewDomainError(ErrCodeInvalidPrice, "Item price must be greater than zero")
	ErrInvalidContact    = NewDomainError(ErrCodeInvalidContact, "Name, email and phone are required and must be valid")
)

// Business rule rejections
var (
	ErrDiscountNotFound    = NewDomainError(ErrCodeDiscountNotFound, "Discount code not found")
	ErrDiscountInactive    = NewDomainError(ErrCodeDiscountInactive, "Discount code is no longer active")
	ErrDiscountNotYetValid = NewDomainError(ErrCodeDiscountNotYetValid, "Discount code is not valid yet")
	ErrDiscountExpired     = NewDomainError(ErrCodeDiscountExpired, "Discount code has expired")
	ErrDiscountMinPurchase = NewDomainError(ErrCodeDiscountMinPurchase, "Order subtotal is below the minimum for this discount code")
	ErrDiscountExhausted   = NewDomainError(ErrCodeDiscountExhausted, "Discount code usage limit has been reached")
	ErrBelowMinimumAmount  = NewDomainError(ErrCodeBelowMinimumAmount, "Order total is below the minimum payable amount")
	ErrAboveMaximumAmount  = NewDomainError(ErrCodeAboveMaximumAmount, "Order total exceeds the maximum payable amount")
)

// Concurrency rejections
var (
	ErrRejectedConcurrently = NewRetryableError(ErrCodeRejectedConcurrently, "Discount code is no longer valid")
	ErrReferenceMismatch    = NewDomainError(ErrCodeReferenceMismatch, "Payment reference does not match this order")
	ErrSessionInProgress    = NewRetryableError(ErrCodeSessionInProgress, "Payment session is being created, try again shortly")
	ErrIdempotencyKeyReused = NewDomainError(ErrCodeIdempotencyKeyReused, "This idempotency key was already used for a different checkout")
)

// Order and payment errors
var (
	ErrOrderNotFound      = NewDomainError(ErrCodeOrderNotFound, "Order not found")
	ErrInvalidTransition  = NewDomainError(ErrCodeInvalidTransition, "Order can only move from pending to completed or failed")
	ErrOrderNotPending    = NewDomainError(ErrCodeOrderNotPending, "Order is no longer awaiting payment")
	ErrGatewayUnavailable = NewRetryableError(ErrCodeGatewayUnavailable, "Your payment did not go through and nothing was charged. Please start a new checkout")
	ErrInvalidSignature   = NewDomainError(ErrCodeInvalidSignature, "Invalid notification signature")
)

// Download errors
var (
	ErrForbidden       = NewDomainError(ErrCodeForbidden, "You do not have access to this order")
	ErrOrderNotSettled = NewDomainError(ErrCodeOrderNotSettled, "Downloads are available once payment is confirmed")
	ErrItemNotFound    = NewDomainError(ErrCodeItemNotFound, "Order item not found")
	ErrNotEntitled     = NewDomainError(ErrCodeNotEntitled, "This item has not been released for download yet")
)
