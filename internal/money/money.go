// Package money holds the exact-decimal arithmetic shared by the cost
// aggregator and the invoice generation pipeline. All amounts are a single
// fixed currency; there is no FX conversion anywhere in the system.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// RoundCents rounds an amount to two decimal places, half away from zero.
// Positive money amounts therefore round half-up at the cent boundary.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToCents converts a decimal amount to minor currency units (integer
// cents), rounding half-up. This conversion happens exactly once, at the
// invoicing provider boundary; rounding anywhere earlier would double up.
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// ApplyMarkup applies a percentage surcharge to a subtotal.
//
// markup = round(subtotal * pct / 100, 2), total = subtotal + markup.
// Pure function. Callers validate pct into [0, 10000] at the data-entry
// boundary; it is not re-checked here.
func ApplyMarkup(subtotal, pct decimal.Decimal) (markup, total decimal.Decimal) {
	markup = RoundCents(subtotal.Mul(pct).Div(hundred))
	total = subtotal.Add(markup)
	return markup, total
}
