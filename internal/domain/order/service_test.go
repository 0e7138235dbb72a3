package order

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/wholesale-orders/internal/domain/cart"
	"github.com/xenking/wholesale-orders/internal/domain/pricing"
	"github.com/xenking/wholesale-orders/internal/domain/product"
	"github.com/xenking/wholesale-orders/internal/domain/user"
)

// --- Mock implementations ---

type mockUserRepo struct {
	byID   map[string]*user.User
	getErr error
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// memStore is an in-memory UnitOfWork. Writes made inside WithinTx are
// applied to a scratch copy and only become visible when fn succeeds.
type memStore struct {
	carts  map[string]*cart.Cart // by user id
	stock  map[string]int
	orders []*Order

	createErr error
	clearErr  error
}

type memTx struct {
	carts  map[string]*cart.Cart
	stock  map[string]int
	orders []*Order

	createErr error
	clearErr  error
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		carts:     make(map[string]*cart.Cart, len(m.carts)),
		stock:     make(map[string]int, len(m.stock)),
		orders:    append([]*Order(nil), m.orders...),
		createErr: m.createErr,
		clearErr:  m.clearErr,
	}
	for k, v := range m.carts {
		cp := *v
		cp.Items = append([]cart.Item(nil), v.Items...)
		tx.carts[k] = &cp
	}
	for k, v := range m.stock {
		tx.stock[k] = v
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.carts, m.stock, m.orders = tx.carts, tx.stock, tx.orders
	return nil
}

func (t *memTx) LockCart(_ context.Context, userID string) (*cart.Cart, error) {
	c, ok := t.carts[userID]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (t *memTx) ReserveStock(_ context.Context, items []Item) error {
	for _, it := range items {
		available := t.stock[it.ProductID]
		if available < it.Quantity {
			return &InsufficientStockError{ProductID: it.ProductID, Requested: it.Quantity, Available: available}
		}
		t.stock[it.ProductID] = available - it.Quantity
	}
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, o *Order) error {
	if t.createErr != nil {
		return t.createErr
	}
	t.orders = append(t.orders, o)
	return nil
}

func (t *memTx) ClearCart(_ context.Context, cartID string) error {
	if t.clearErr != nil {
		return t.clearErr
	}
	for _, c := range t.carts {
		if c.ID == cartID {
			c.Items = nil
		}
	}
	return nil
}

type mockOrderRepo struct {
	byID    map[string]*Order
	list    []Order
	listErr error
	getErr  error
}

func (m *mockOrderRepo) ListByUser(_ context.Context, _ string) ([]Order, error) {
	return m.list, m.listErr
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

type mockNotifier struct {
	placed []*Order
	err    error
}

func (m *mockNotifier) OrderPlaced(_ context.Context, o *Order) error {
	m.placed = append(m.placed, o)
	return m.err
}

// --- Helpers ---

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func newTestProduct(id, wholesale, pct string) product.Product {
	return product.Product{
		ID:                 id,
		SKU:                "SKU-" + id,
		Name:               "Product " + id,
		WholesalePrice:     d(wholesale),
		RetailPrice:        d(wholesale).Mul(decimal.NewFromInt(2)),
		DiscountPercentage: d(pct),
	}
}

func newTestUser(rate string) *user.User {
	return &user.User{
		ID:           "u1",
		Email:        "buyer@example.com",
		Name:         "Buyer",
		Role:         user.RoleUser,
		DiscountRate: d(rate),
		Approved:     true,
	}
}

func newCart(items ...cart.Item) *cart.Cart {
	for i := range items {
		items[i].ID = fmt.Sprintf("ci%d", i+1)
		items[i].ProductID = items[i].Product.ID
	}
	return &cart.Cart{ID: "c1", UserID: "u1", Items: items}
}

type fixture struct {
	svc      *Service
	store    *memStore
	notifier *mockNotifier
}

func newFixture(u *user.User, c *cart.Cart, stock map[string]int, source pricing.Source) *fixture {
	users := &mockUserRepo{byID: map[string]*user.User{}}
	if u != nil {
		users.byID[u.ID] = u
	}
	store := &memStore{carts: map[string]*cart.Cart{}, stock: stock}
	if c != nil {
		store.carts[c.UserID] = c
	}
	n := &mockNotifier{}
	svc := NewService(Config{PriceSource: source, Notifier: n}, users, store, &mockOrderRepo{})

	var seq int
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	svc.now = func() time.Time {
		return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	}

	return &fixture{svc: svc, store: store, notifier: n}
}

// --- Tests ---

func TestFinalize_UserNotFound(t *testing.T) {
	f := newFixture(nil, nil, nil, "")

	_, err := f.svc.Finalize(context.Background(), "u1")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestFinalize_UserLookupFailure(t *testing.T) {
	f := newFixture(newTestUser("0"), nil, nil, "")
	f.svc.users = &mockUserRepo{getErr: errors.New("connection reset")}

	_, err := f.svc.Finalize(context.Background(), "u1")
	require.ErrorIs(t, err, ErrPersistence)
}

func TestFinalize_NoCart(t *testing.T) {
	f := newFixture(newTestUser("0"), nil, nil, "")

	_, err := f.svc.Finalize(context.Background(), "u1")
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, f.store.orders)
}

func TestFinalize_EmptyCart(t *testing.T) {
	f := newFixture(newTestUser("0"), newCart(), nil, "")

	_, err := f.svc.Finalize(context.Background(), "u1")
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, f.store.orders)
}

func TestFinalize_SingleLineWithDiscount(t *testing.T) {
	p := newTestProduct("p1", "17.00", "0")
	f := newFixture(newTestUser("0.10"), newCart(cart.Item{Product: p, Quantity: 2}), map[string]int{"p1": 5}, "")

	o, err := f.svc.Finalize(context.Background(), "u1")
	require.NoError(t, err)

	assertDecimal(t, "34.00", o.Subtotal)
	assertDecimal(t, "0.10", o.DiscountRate)
	assertDecimal(t, "3.40", o.Discount)
	assertDecimal(t, "7.34", o.Tax)
	assertDecimal(t, "37.94", o.TotalAmount)

	require.Len(t, o.Items, 1)
	assert.Equal(t, "p1", o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assertDecimal(t, "17.00", o.Items[0].Price)
	assert.Equal(t, "SKU-p1", o.Items[0].Product.SKU)

	require.NotNil(t, o.User)
	assert.Equal(t, "buyer@example.com", o.User.Email)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), o.CreatedAt)
}

func TestFinalize_ClearsCartAndPersists(t *testing.T) {
	p1 := newTestProduct("p1", "17.00", "0")
	p2 := newTestProduct("p2", "8.00", "0")
	p3 := newTestProduct("p3", "20.00", "10")
	c := newCart(
		cart.Item{Product: p1, Quantity: 1},
		cart.Item{Product: p2, Quantity: 3},
		cart.Item{Product: p3, Quantity: 2},
	)
	f := newFixture(newTestUser("0"), c, map[string]int{"p1": 4, "p2": 11, "p3": 2}, "")

	o, err := f.svc.Finalize(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, o.Items, 3)
	for i, id := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, id, o.Items[i].ProductID)
	}

	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal())
	}
	assert.True(t, sum.Equal(o.Subtotal), "subtotal %s != sum of lines %s", o.Subtotal, sum)

	require.Len(t, f.store.orders, 1)
	assert.Equal(t, o.ID, f.store.orders[0].ID)
	assert.Empty(t, f.store.carts["u1"].Items)
	assert.Equal(t, "c1", f.store.carts["u1"].ID)
	assert.Equal(t, map[string]int{"p1": 3, "p2": 8, "p3": 0}, f.store.stock)
}

func TestFinalize_PriceIsCaptured(t *testing.T) {
	p := newTestProduct("p1", "17.00", "0")
	f := newFixture(newTestUser("0"), newCart(cart.Item{Product: p, Quantity: 2}), map[string]int{"p1": 5}, "")

	first, err := f.svc.Finalize(context.Background(), "u1")
	require.NoError(t, err)

	// The catalog price changes before the next checkout.
	p.WholesalePrice = d("99.00")
	f.store.carts["u1"].Items = []cart.Item{{ID: "ci9", ProductID: "p1", Quantity: 1, Product: p}}

	second, err := f.svc.Finalize(context.Background(), "u1")
	require.NoError(t, err)

	assertDecimal(t, "17.00", first.Items[0].Price)
	assertDecimal(t, "34.00", first.Subtotal)
	assertDecimal(t, "34.00", f.store.orders[0].Subtotal)
	assertDecimal(t, "99.00", second.Items[0].Price)
}

func TestFinalize_DiscountedPriceSource(t *testing.T) {
	p := newTestProduct("p1", "17.50", "15")
	f := newFixture(newTestUser("0"), newCart(cart.Item{Product: p, Quantity: 2}), map[string]int{"p1": 9}, pricing.SourceDiscounted)

	o, err := f.svc.Finalize(context.Background(), "u1")
	require.NoError(t, err)

	assertDecimal(t, "14.88", o.Items[0].Price)
	assertDecimal(t, "29.76", o.Subtotal)
}

func TestFinalize_InsufficientStock(t *testing.T) {
	p1 := newTestProduct("p1", "17.00", "0")
	p2 := newTestProduct("p2", "20.00", "0")
	c := newCart(
		cart.Item{Product: p1, Quantity: 1},
		cart.Item{Product: p2, Quantity: 3},
	)
	f := newFixture(newTestUser("0"), c, map[string]int{"p1": 4, "p2": 2}, "")

	_, err := f.svc.Finalize(context.Background(), "u1")

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	// Nothing was committed.
	assert.Empty(t, f.store.orders)
	assert.Len(t, f.store.carts["u1"].Items, 2)
	assert.Equal(t, map[string]int{"p1": 4, "p2": 2}, f.store.stock)
	assert.Empty(t, f.notifier.placed)
}

func TestFinalize_CreateOrderFailureRollsBack(t *testing.T) {
	p := newTestProduct("p1", "17.00", "0")
	f := newFixture(newTestUser("0"), newCart(cart.Item{Product: p, Quantity: 2}), map[string]int{"p1": 5}, "")
	f.store.createErr = errors.New("db write failed")

	_, err := f.svc.Finalize(context.Background(), "u1")
	require.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "create order")

	assert.Empty(t, f.store.orders)
	assert.Len(t, f.store.carts["u1"].Items, 1)
	assert.Equal(t, 5, f.store.stock["p1"])
}

func TestFinalize_ClearCartFailureRollsBack(t *testing.T) {
	p := newTestProduct("p1", "17.00", "0")
	f := newFixture(newTestUser("0"), newCart(cart.Item{Product: p, Quantity: 2}), map[string]int{"p1": 5}, "")
	f.store.clearErr = errors.New("could not serialize access")

	_, err := f.svc.Finalize(context.Background(), "u1")
	require.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, f.store.orders)
}

func TestFinalize_SecondCallFindsEmptyCart(t *testing.T) {
	p := newTestProduct("p1", "17.00", "0")
	f := newFixture(newTestUser("0"), newCart(cart.Item{Product: p, Quantity: 1}), map[string]int{"p1": 5}, "")

	_, err := f.svc.Finalize(context.Background(), "u1")
	require.NoError(t, err)

	_, err = f.svc.Finalize(context.Background(), "u1")
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Len(t, f.store.orders, 1)
}

func TestFinalize_NotifiesAndIgnoresNotifierFailure(t *testing.T) {
	p := newTestProduct("p1", "17.00", "0")
	f := newFixture(newTestUser("0"), newCart(cart.Item{Product: p, Quantity: 1}), map[string]int{"p1": 5}, "")
	f.notifier.err = errors.New("broker down")

	o, err := f.svc.Finalize(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, f.notifier.placed, 1)
	assert.Equal(t, o.ID, f.notifier.placed[0].ID)
}

func TestGet_OwnershipAndNotFound(t *testing.T) {
	f := newFixture(newTestUser("0.05"), nil, nil, "")
	f.svc.orders = &mockOrderRepo{byID: map[string]*Order{
		"mine":   {ID: "mine", UserID: "u1"},
		"theirs": {ID: "theirs", UserID: "u2"},
	}}

	o, err := f.svc.Get(context.Background(), "u1", "mine")
	require.NoError(t, err)
	require.NotNil(t, o.User)
	assert.Equal(t, "u1", o.User.ID)

	_, err = f.svc.Get(context.Background(), "u1", "theirs")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Get(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGet_BillingFromCurrentProfile(t *testing.T) {
	u := newTestUser("0.10")
	u.Company = "Old Co"
	f := newFixture(u, nil, nil, "")
	f.svc.orders = &mockOrderRepo{byID: map[string]*Order{
		"o1": {ID: "o1", UserID: "u1", DiscountRate: d("0.05"), TotalAmount: d("42.00")},
	}}

	u.Company = "New Co"
	u.DiscountRate = d("0.20")

	o, err := f.svc.Get(context.Background(), "u1", "o1")
	require.NoError(t, err)
	require.NotNil(t, o.User)
	assert.Equal(t, "New Co", o.User.Company)
	assert.True(t, d("0.05").Equal(o.DiscountRate), "discount rate stays the stored snapshot")
	assert.True(t, d("42.00").Equal(o.TotalAmount))
}

func TestList(t *testing.T) {
	f := newFixture(newTestUser("0"), nil, nil, "")
	f.svc.orders = &mockOrderRepo{list: []Order{{ID: "b"}, {ID: "a"}}}

	orders, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "b", orders[0].ID)

	f.svc.orders = &mockOrderRepo{listErr: errors.New("timeout")}
	_, err = f.svc.List(context.Background(), "u1")
	require.ErrorIs(t, err, ErrPersistence)
}
