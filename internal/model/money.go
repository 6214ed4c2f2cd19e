package model

import "github.com/shopspring/decimal"

// CurrencyPrecision is the number of minor-unit digits carried by every amount.
const CurrencyPrecision int32 = 3

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds an amount to the currency precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPrecision)
}

// ToMinorUnits converts an amount to an integer count of minor units (1.000 -> 1000).
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(CurrencyPrecision).Round(0).IntPart()
}

// FromMinorUnits converts an integer count of minor units back to an amount.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -CurrencyPrecision)
}

// DiscountAmount returns round(subtotal * percent / 100) at currency precision.
func DiscountAmount(subtotal, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(subtotal.Mul(percent).Div(hundred))
}

// ApplyDiscount returns subtotal minus amount, clamped at zero.
func ApplyDiscount(subtotal, amount decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(amount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return RoundMoney(total)
}
