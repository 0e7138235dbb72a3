package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/wholesale-orders/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

const (
	getCartByUser = `SELECT id FROM carts WHERE user_id = $1`

	listCartItems = `SELECT ci.id, ci.product_id, ci.quantity,
	p.sku, p.name, p.color, p.size, p.wholesale_price, p.retail_price, p.discount_percentage, p.stock
FROM cart_items ci
JOIN products p ON p.id = ci.product_id
WHERE ci.cart_id = $1
ORDER BY ci.created_at, ci.id`
)

// CartRepository reads carts from PostgreSQL.
type CartRepository struct {
	db DB
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(db DB) *CartRepository {
	return &CartRepository{db: db}
}

// GetByUserID returns the user's cart with its items, or cart.ErrNotFound
// when the user never created one.
func (r *CartRepository) GetByUserID(ctx context.Context, userID string) (*cart.Cart, error) {
	c := &cart.Cart{UserID: userID}
	if err := r.db.QueryRow(ctx, getCartByUser, userID).Scan(&c.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart for user %q", userID)
	}

	items, err := cartItems(ctx, r.db, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items

	return c, nil
}

// cartItems loads the lines of a cart joined with their products, oldest
// first.
func cartItems(ctx context.Context, q querier, cartID string) ([]cart.Item, error) {
	rows, err := q.Query(ctx, listCartItems, cartID)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of cart %q", cartID)
	}
	defer rows.Close()

	var items []cart.Item
	for rows.Next() {
		var it cart.Item
		if err := rows.Scan(
			&it.ID, &it.ProductID, &it.Quantity,
			&it.Product.SKU, &it.Product.Name, &it.Product.Color, &it.Product.Size,
			&it.Product.WholesalePrice, &it.Product.RetailPrice, &it.Product.DiscountPercentage,
			&it.Product.Stock,
		); err != nil {
			return nil, errors.Wrap(err, "scan cart item")
		}
		it.Product.ID = it.ProductID
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate cart items")
	}

	return items, nil
}
