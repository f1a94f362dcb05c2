package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyMarkup(t *testing.T) {
	tests := []struct {
		name       string
		subtotal   string
		pct        string
		wantMarkup string
		wantTotal  string
	}{
		{"twenty percent of 100", "100.00", "20", "20.00", "120.00"},
		{"zero percent", "55.10", "0", "0.00", "55.10"},
		{"zero subtotal", "0", "35", "0.00", "0.00"},
		{"rounds half up at cent", "10.01", "2.5", "0.25", "10.26"}, // 0.250025 -> 0.25
		{"half cent rounds up", "0.50", "25", "0.13", "0.63"},       // 0.125 -> 0.13
		{"large percent", "10.00", "10000", "1000.00", "1010.00"},
		{"fractional percent", "123.45", "7.5", "9.26", "132.71"}, // 9.25875 -> 9.26
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markup, total := ApplyMarkup(dec(tt.subtotal), dec(tt.pct))
			assert.True(t, dec(tt.wantMarkup).Equal(markup), "markup: want %s got %s", tt.wantMarkup, markup)
			assert.True(t, dec(tt.wantTotal).Equal(total), "total: want %s got %s", tt.wantTotal, total)
			assert.True(t, total.GreaterThanOrEqual(dec(tt.subtotal)), "total must never undercut subtotal")
		})
	}
}

func TestApplyMarkupIsPure(t *testing.T) {
	subtotal, pct := dec("99.99"), dec("12.5")

	m1, t1 := ApplyMarkup(subtotal, pct)
	m2, t2 := ApplyMarkup(subtotal, pct)

	require.True(t, m1.Equal(m2))
	require.True(t, t1.Equal(t2))
	// Inputs must be untouched
	assert.True(t, subtotal.Equal(dec("99.99")))
	assert.True(t, pct.Equal(dec("12.5")))
}

func TestToCents(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"19.995", 2000}, // half-up, not 1999
		{"19.994", 1999},
		{"0", 0},
		{"0.005", 1},
		{"120.00", 12000},
		{"0.01", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ToCents(dec(tt.amount)), "ToCents(%s)", tt.amount)
	}
}

func TestRoundCents(t *testing.T) {
	assert.True(t, RoundCents(dec("1.005")).Equal(dec("1.01")))
	assert.True(t, RoundCents(dec("1.004")).Equal(dec("1.00")))
}
