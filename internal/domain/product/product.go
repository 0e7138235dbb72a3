package product

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

var hundred = decimal.NewFromInt(100)

// Product represents a catalog SKU sold to wholesale accounts.
//
// DiscountPercentage is on the 0–100 scale, unlike the 0–1 account-level
// rate carried by users.
type Product struct {
	ID                 string
	SKU                string
	Name               string
	Color              string
	Size               string
	WholesalePrice     decimal.Decimal
	RetailPrice        decimal.Decimal
	DiscountPercentage decimal.Decimal
	Stock              int
}

// DiscountedPrice returns the wholesale price reduced by the product's own
// discount percentage. It is not rounded.
func (p Product) DiscountedPrice() decimal.Decimal {
	if p.DiscountPercentage.IsZero() {
		return p.WholesalePrice
	}
	return p.WholesalePrice.Mul(hundred.Sub(p.DiscountPercentage)).Div(hundred)
}
