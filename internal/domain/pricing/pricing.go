// Package pricing computes order totals from captured line prices.
//
// All arithmetic is done in full decimal precision; callers round with
// Totals.Rounded at the point of persistence or display.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/wholesale-orders/internal/domain/product"
)

// TaxRate is the flat VAT rate applied to the discounted subtotal.
var TaxRate = decimal.RequireFromString("0.24")

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// Source selects which catalog price becomes the captured unit price.
type Source string

const (
	// SourceWholesale captures the raw wholesale price.
	SourceWholesale Source = "wholesale"
	// SourceDiscounted captures the wholesale price after the product's own
	// percentage discount.
	SourceDiscounted Source = "discounted"
)

// ErrUnknownSource is returned by ParseSource for unsupported values.
var ErrUnknownSource = errors.New("unknown price source")

// ParseSource validates a configured price source. Empty means wholesale.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case "", SourceWholesale:
		return SourceWholesale, nil
	case SourceDiscounted:
		return SourceDiscounted, nil
	default:
		return "", errors.Wrapf(ErrUnknownSource, "%q", s)
	}
}

// UnitPrice returns the per-unit price captured for p, rounded to cents so
// that stored line totals add up to the stored subtotal exactly.
func (s Source) UnitPrice(p product.Product) decimal.Decimal {
	if s == SourceDiscounted {
		return p.DiscountedPrice().Round(2)
	}
	return p.WholesalePrice.Round(2)
}

// Line is a single priced order line.
type Line struct {
	Price    decimal.Decimal
	Quantity int
}

// Total returns price * quantity.
func (l Line) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Totals holds every figure reported on an order.
type Totals struct {
	Subtotal           decimal.Decimal
	DiscountRate       decimal.Decimal
	Discount           decimal.Decimal
	DiscountedSubtotal decimal.Decimal
	Tax                decimal.Decimal
	Total              decimal.Decimal
}

// Calculate applies the account discount rate and tax to the sum of lines.
// Rates outside [0, 1] are clamped.
func Calculate(lines []Line, discountRate decimal.Decimal) Totals {
	rate := clampRate(discountRate)

	subtotal := zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}

	discount := subtotal.Mul(rate)
	discounted := subtotal.Sub(discount)
	tax := discounted.Mul(TaxRate)

	return Totals{
		Subtotal:           subtotal,
		DiscountRate:       rate,
		Discount:           discount,
		DiscountedSubtotal: discounted,
		Tax:                tax,
		Total:              discounted.Add(tax),
	}
}

// Rounded returns t with every monetary figure rounded to two decimal
// places. Each figure is rounded from its unrounded value, so Total is not
// necessarily the sum of the rounded parts.
func (t Totals) Rounded() Totals {
	return Totals{
		Subtotal:           t.Subtotal.Round(2),
		DiscountRate:       t.DiscountRate,
		Discount:           t.Discount.Round(2),
		DiscountedSubtotal: t.DiscountedSubtotal.Round(2),
		Tax:                t.Tax.Round(2),
		Total:              t.Total.Round(2),
	}
}

// clampRate keeps an account discount rate within [0, 1].
func clampRate(r decimal.Decimal) decimal.Decimal {
	if r.IsNegative() {
		return zero
	}
	if r.GreaterThan(one) {
		return one
	}
	return r
}
