package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/wholesale-orders/internal/domain/cart"
	"github.com/xenking/wholesale-orders/internal/domain/product"
	"github.com/xenking/wholesale-orders/internal/domain/user"
)

// Sentinel errors returned by the order service.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmptyCart    = errors.New("cart is empty")
	ErrNotFound     = errors.New("order not found")
	ErrPersistence  = errors.New("persistence failure")
)

// InsufficientStockError indicates a cart line asks for more units than the
// product has left.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Order is an immutable snapshot of a checked out cart. Monetary fields are
// stored rounded to two decimal places.
type Order struct {
	ID           string
	UserID       string
	Items        []Item
	Subtotal     decimal.Decimal
	DiscountRate decimal.Decimal
	Discount     decimal.Decimal
	Tax          decimal.Decimal
	TotalAmount  decimal.Decimal
	CreatedAt    time.Time

	// User is attached on read and is not persisted with the order.
	User *user.User
}

// Item is one order line. Price is the unit price captured at checkout.
type Item struct {
	ID        string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
	Product   product.Product
}

// LineTotal returns Price * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Repository reads stored orders.
type Repository interface {
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// GetByID returns ErrNotFound when no order has the id.
	GetByID(ctx context.Context, id string) (*Order, error)
}

// UnitOfWork runs fn inside a single serializable transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes performed during checkout.
type Tx interface {
	// LockCart locks the user's cart row and loads its items joined with
	// products. It returns nil when the user has no cart.
	LockCart(ctx context.Context, userID string) (*cart.Cart, error)
	// ReserveStock decrements stock for every item or returns
	// *InsufficientStockError.
	ReserveStock(ctx context.Context, items []Item) error
	CreateOrder(ctx context.Context, o *Order) error
	ClearCart(ctx context.Context, cartID string) error
}

// Notifier announces placed orders to downstream consumers.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
}
