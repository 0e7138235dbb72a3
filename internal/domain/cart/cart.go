package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/wholesale-orders/internal/domain/product"
)

// ErrNotFound is returned when a user has never created a cart.
var ErrNotFound = errors.New("cart not found")

// Cart is the persisted basket of a single user.
type Cart struct {
	ID     string
	UserID string
	Items  []Item
}

// Item is a cart line joined with its catalog product.
type Item struct {
	ID        string
	ProductID string
	Quantity  int
	Product   product.Product
}

// IsEmpty reports whether the cart is missing or has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Repository provides read access to carts.
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*Cart, error)
}
