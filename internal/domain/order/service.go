package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/pricing"
	"github.com/xenking/wholesale-orders/internal/domain/user"
)

// Config controls order finalization.
type Config struct {
	// PriceSource picks the captured unit price. Defaults to wholesale.
	PriceSource pricing.Source
	// Notifier is optional.
	Notifier Notifier
}

// Service turns carts into orders and reads them back.
type Service struct {
	users  user.Repository
	store  UnitOfWork
	orders Repository

	source   pricing.Source
	notifier Notifier

	now   func() time.Time
	newID func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(cfg Config, users user.Repository, store UnitOfWork, orders Repository) *Service {
	if cfg.PriceSource == "" {
		cfg.PriceSource = pricing.SourceWholesale
	}
	return &Service{
		users:    users,
		store:    store,
		orders:   orders,
		source:   cfg.PriceSource,
		notifier: cfg.Notifier,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Finalize converts the user's cart into an order. The cart read, stock
// reservation, order insert and cart clear happen in one transaction, so
// either all of them are visible or none are.
func (s *Service) Finalize(ctx context.Context, userID string) (*Order, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var placed *Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.LockCart(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "lock cart")
		}
		if c.IsEmpty() {
			return ErrEmptyCart
		}

		o := &Order{
			ID:        s.newID(),
			UserID:    u.ID,
			Items:     make([]Item, 0, len(c.Items)),
			CreatedAt: s.now().UTC(),
		}
		lines := make([]pricing.Line, 0, len(c.Items))
		for _, ci := range c.Items {
			price := s.source.UnitPrice(ci.Product)
			o.Items = append(o.Items, Item{
				ID:        s.newID(),
				ProductID: ci.ProductID,
				Quantity:  ci.Quantity,
				Price:     price,
				Product:   ci.Product,
			})
			lines = append(lines, pricing.Line{Price: price, Quantity: ci.Quantity})
		}

		totals := pricing.Calculate(lines, u.DiscountRate).Rounded()
		o.Subtotal = totals.Subtotal
		o.DiscountRate = totals.DiscountRate
		o.Discount = totals.Discount
		o.Tax = totals.Tax
		o.TotalAmount = totals.Total

		if err := tx.ReserveStock(ctx, o.Items); err != nil {
			return errors.Wrap(err, "reserve stock")
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := tx.ClearCart(ctx, c.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	placed.User = u
	s.notify(ctx, placed)

	return placed, nil
}

// List returns the user's orders, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %w", ErrPersistence, err)
	}
	return orders, nil
}

// Get returns an order owned by userID with the current user attached.
// Orders owned by someone else are reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, orderID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: get order: %w", ErrPersistence, err)
	}
	if o.UserID != u.ID {
		return nil, ErrNotFound
	}

	o.User = u
	return o, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (*user.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	switch {
	case errors.Is(err, user.ErrNotFound):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: get user: %w", ErrPersistence, err)
	}
	return u, nil
}

func (s *Service) notify(ctx context.Context, o *Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderPlaced(ctx, o); err != nil {
		zctx.From(ctx).Warn("Order notification failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// classify keeps domain errors intact and folds everything else into
// ErrPersistence.
func classify(err error) error {
	var stockErr *InsufficientStockError
	switch {
	case errors.Is(err, ErrEmptyCart):
		return ErrEmptyCart
	case errors.As(err, &stockErr):
		return stockErr
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}
