package postgres

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/cart"
	"github.com/xenking/wholesale-orders/internal/domain/order"
)

var (
	_ order.UnitOfWork = (*OrderStore)(nil)
	_ order.Tx         = (*orderTx)(nil)
	_ order.Repository = (*OrderRepository)(nil)
)

const (
	lockCart = `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`

	reserveStock = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
	getStock     = `SELECT stock FROM products WHERE id = $1`

	insertOrder = `INSERT INTO orders (id, user_id, subtotal, discount_rate, discount, tax, total_amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertOrderItem = `INSERT INTO order_items (id, order_id, position, product_id, quantity, price)
VALUES ($1, $2, $3, $4, $5, $6)`

	clearCart = `DELETE FROM cart_items WHERE cart_id = $1`

	selectOrder = `SELECT id, user_id, subtotal, discount_rate, discount, tax, total_amount, created_at FROM orders`

	listOrdersByUser = selectOrder + ` WHERE user_id = $1 ORDER BY created_at DESC, id`
	getOrderByID     = selectOrder + ` WHERE id = $1`

	listOrderItems = `SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price,
	p.sku, p.name, p.color, p.size, p.wholesale_price, p.retail_price, p.discount_percentage, p.stock
FROM order_items oi
JOIN products p ON p.id = oi.product_id
WHERE oi.order_id = ANY($1)
ORDER BY oi.order_id, oi.position`
)

// OrderStore runs checkout writes in a serializable transaction.
type OrderStore struct {
	db DB
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(db DB) *OrderStore {
	return &OrderStore{db: db}
}

// WithinTx implements order.UnitOfWork. Serialization failures surface as
// errors and are not retried.
func (s *OrderStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			zctx.From(ctx).Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) LockCart(ctx context.Context, userID string) (*cart.Cart, error) {
	c := &cart.Cart{UserID: userID}
	if err := t.tx.QueryRow(ctx, lockCart, userID).Scan(&c.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lock cart")
	}

	items, err := cartItems(ctx, t.tx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items

	return c, nil
}

// ReserveStock updates products in id order so concurrent checkouts take row
// locks in the same sequence.
func (t *orderTx) ReserveStock(ctx context.Context, items []order.Item) error {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b order.Item) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})

	for _, it := range sorted {
		tag, err := t.tx.Exec(ctx, reserveStock, it.ProductID, it.Quantity)
		if err != nil {
			return errors.Wrapf(err, "reserve stock of %q", it.ProductID)
		}
		if tag.RowsAffected() > 0 {
			continue
		}

		var available int
		if err := t.tx.QueryRow(ctx, getStock, it.ProductID).Scan(&available); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(err, "get stock of %q", it.ProductID)
		}
		return &order.InsufficientStockError{
			ProductID: it.ProductID,
			Requested: it.Quantity,
			Available: available,
		}
	}
	return nil
}

func (t *orderTx) CreateOrder(ctx context.Context, o *order.Order) error {
	if _, err := t.tx.Exec(ctx, insertOrder,
		o.ID, o.UserID, o.Subtotal, o.DiscountRate, o.Discount, o.Tax, o.TotalAmount, o.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}

	for i, it := range o.Items {
		if _, err := t.tx.Exec(ctx, insertOrderItem,
			it.ID, o.ID, i, it.ProductID, it.Quantity, it.Price,
		); err != nil {
			return errors.Wrapf(err, "insert order item %d", i)
		}
	}
	return nil
}

func (t *orderTx) ClearCart(ctx context.Context, cartID string) error {
	if _, err := t.tx.Exec(ctx, clearCart, cartID); err != nil {
		return errors.Wrapf(err, "clear cart %q", cartID)
	}
	return nil
}

// OrderRepository reads stored orders.
type OrderRepository struct {
	db DB
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ListByUser returns the user's orders with items, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersByUser, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	orders := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// GetByID returns order.ErrNotFound when no order has the id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, getOrderByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, err
	}

	items, err := r.items(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]

	return &o, nil
}

func (r *OrderRepository) items(ctx context.Context, orderIDs []string) (map[string][]order.Item, error) {
	rows, err := r.db.Query(ctx, listOrderItems, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	byOrder := make(map[string][]order.Item, len(orderIDs))
	for rows.Next() {
		var (
			it      order.Item
			orderID string
		)
		if err := rows.Scan(
			&it.ID, &orderID, &it.ProductID, &it.Quantity, &it.Price,
			&it.Product.SKU, &it.Product.Name, &it.Product.Color, &it.Product.Size,
			&it.Product.WholesalePrice, &it.Product.RetailPrice, &it.Product.DiscountPercentage,
			&it.Product.Stock,
		); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		it.Product.ID = it.ProductID
		byOrder[orderID] = append(byOrder[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order items")
	}

	return byOrder, nil
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Subtotal, &o.DiscountRate, &o.Discount, &o.Tax, &o.TotalAmount, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, err
		}
		return o, errors.Wrap(err, "scan order")
	}
	return o, nil
}
