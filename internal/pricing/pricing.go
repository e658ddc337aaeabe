// Package pricing derives display prices and discount applicability from
// catalog product records.
//
// The storefront's pricing policy is discount-by-default: a product with no
// discount fields at all is still presented as discounted at DefaultRate.
// Only an explicit zero rate turns the discount off.
package pricing

import "github.com/shopspring/decimal"

// DefaultRate is the store-wide discount percentage applied when a product
// carries no explicit rate.
var DefaultRate = decimal.NewFromInt(15)

var hundred = decimal.NewFromInt(100)

// Product is a catalog record as delivered by the backend. Price fields are
// optional; nil means the field was absent or failed numeric coercion (the
// lenient decode path records such failures, see ParseProduct).
type Product struct {
	ID       string
	Name     string
	Category string
	Image    string

	Price           *decimal.Decimal
	OriginalPrice   *decimal.Decimal
	DiscountedPrice *decimal.Decimal
	// Discount is a percentage in [0, 100]. An explicit zero disables the
	// default discount; absence enables it.
	Discount *decimal.Decimal

	// issues collects coercion failures from the lenient decoder so that
	// Validate can surface them instead of silently zeroing.
	issues []FieldIssue
}

// Quote holds the derived display values for a single render. Quotes are
// computed on demand and never cached.
type Quote struct {
	OriginalPrice   decimal.Decimal
	DiscountedPrice decimal.Decimal
	HasDiscount     bool
}

// OriginalPrice returns the price to strike through: the manual original
// price when present and positive, otherwise the base price, otherwise zero.
// The result is never negative; a nil product yields zero.
func OriginalPrice(p *Product) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	if p.OriginalPrice != nil && p.OriginalPrice.IsPositive() {
		return *p.OriginalPrice
	}
	if p.Price != nil {
		return floorAtZero(*p.Price)
	}
	return decimal.Zero
}

// DiscountRate returns the effective discount percentage. An explicit rate
// wins, with negatives clamped to zero; an absent rate falls back to
// DefaultRate. Note that an explicit zero therefore means "no discount",
// while absence means "default discount".
func DiscountRate(p *Product) decimal.Decimal {
	if p == nil || p.Discount == nil {
		return DefaultRate
	}
	return floorAtZero(*p.Discount)
}

// DiscountedPrice returns the price to charge. A manual discounted price is
// returned verbatim when present and non-zero; it is deliberately not
// validated against the original price (see Validate for the strict path).
// Otherwise the price is computed as original * (1 - rate/100), rounded to
// cents half-away-from-zero.
func DiscountedPrice(p *Product) decimal.Decimal {
	if p != nil && p.DiscountedPrice != nil && !p.DiscountedPrice.IsZero() {
		return *p.DiscountedPrice
	}
	original := OriginalPrice(p)
	rate := DiscountRate(p)
	return original.Mul(hundred.Sub(rate)).Div(hundred).Round(2)
}

// HasDiscount reports whether the product should be rendered as discounted.
// With both manual prices set it compares them; otherwise any positive
// effective rate counts, so products without discount fields still report
// true under the discount-by-default policy.
func HasDiscount(p *Product) bool {
	if p != nil && manualPricing(p) {
		return p.OriginalPrice.GreaterThan(*p.DiscountedPrice)
	}
	return DiscountRate(p).IsPositive()
}

// ComputeQuote derives the full quote for a product in one call.
func ComputeQuote(p *Product) Quote {
	return Quote{
		OriginalPrice:   OriginalPrice(p),
		DiscountedPrice: DiscountedPrice(p),
		HasDiscount:     HasDiscount(p),
	}
}

// manualPricing reports whether both manual price fields are present and
// non-zero, i.e. the record bypasses rate computation entirely.
func manualPricing(p *Product) bool {
	return p.OriginalPrice != nil && !p.OriginalPrice.IsZero() &&
		p.DiscountedPrice != nil && !p.DiscountedPrice.IsZero()
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
