package pricing

import "github.com/shopspring/decimal"

// Formatter renders currency values for display: a symbol prefix followed by
// the amount with exactly two decimal places. No locale-aware grouping is
// applied.
type Formatter struct {
	Symbol string
}

// Format renders d as a display string, e.g. "$1499.50".
func (f Formatter) Format(d decimal.Decimal) string {
	return f.Symbol + d.StringFixed(2)
}
