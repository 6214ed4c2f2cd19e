package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountCode is a percentage discount with optional usage and time limits.
type DiscountCode struct {
	Code              string          `json:"code" db:"code"`
	DiscountPercent   decimal.Decimal `json:"discountPercent" db:"discount_percent"`
	IsActive          bool            `json:"isActive" db:"is_active"`
	UsageLimit        *int            `json:"usageLimit,omitempty" db:"usage_limit"`
	UsedCount         int             `json:"usedCount" db:"used_count"`
	ValidFrom         *time.Time      `json:"validFrom,omitempty" db:"valid_from"`
	ValidUntil        *time.Time      `json:"validUntil,omitempty" db:"valid_until"`
	MinPurchaseAmount decimal.Decimal `json:"minPurchaseAmount" db:"min_purchase_amount"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// HasRemainingUses reports whether another reservation fits under the usage limit.
func (d *DiscountCode) HasRemainingUses() bool {
	return d.UsageLimit == nil || d.UsedCount < *d.UsageLimit
}

// NormalizeDiscountCode trims and upper-cases a user supplied code.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AppliedDiscount is the discount frozen onto an order at reservation time.
type AppliedDiscount struct {
	Code    string          `json:"code"`
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}
