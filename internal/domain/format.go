package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatDecimal renders d with exactly two fractional digits.
func FormatDecimal(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatAmount renders the integer part of d with a space every three digits,
// e.g. 2000 -> "2 000". Fractional digits are dropped.
func FormatAmount(d decimal.Decimal) string {
	digits := d.Truncate(0).Abs().String()
	var b strings.Builder
	if d.Truncate(0).IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
