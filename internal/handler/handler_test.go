package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/wholesale-orders/internal/cache"
	"github.com/xenking/wholesale-orders/internal/domain/auth"
	"github.com/xenking/wholesale-orders/internal/domain/cart"
	"github.com/xenking/wholesale-orders/internal/domain/order"
	"github.com/xenking/wholesale-orders/internal/domain/pricing"
	"github.com/xenking/wholesale-orders/internal/domain/product"
	"github.com/xenking/wholesale-orders/internal/domain/user"
	"github.com/xenking/wholesale-orders/internal/invoice"
)

// --- Mock implementations ---

type mockOrders struct {
	finalized *order.Order
	finErr    error
	list      []order.Order
	byID      map[string]*order.Order
	calls     int
}

func (m *mockOrders) Finalize(_ context.Context, _ string) (*order.Order, error) {
	m.calls++
	return m.finalized, m.finErr
}

func (m *mockOrders) List(_ context.Context, _ string) ([]order.Order, error) {
	return m.list, nil
}

func (m *mockOrders) Get(_ context.Context, userID, orderID string) (*order.Order, error) {
	o, ok := m.byID[orderID]
	if !ok || o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type mockCarts struct {
	cart *cart.Cart
	err  error
}

func (m *mockCarts) GetByUserID(_ context.Context, _ string) (*cart.Cart, error) {
	return m.cart, m.err
}

type mockRenderer struct {
	err   error
	calls int
}

func (m *mockRenderer) Render(_ context.Context, o *order.Order) ([]byte, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []byte("%PDF-" + o.ID), nil
}

type mockCache struct {
	data   map[string][]byte
	getErr error
}

func (m *mockCache) Get(_ context.Context, id string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.data[id]
	if !ok {
		return nil, cache.ErrMiss
	}
	return b, nil
}

func (m *mockCache) Set(_ context.Context, id string, pdf []byte) error {
	m.data[id] = pdf
	return nil
}

type mockAPIKeys struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	k, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return k, nil
}

type mockUsers struct {
	byID map[string]*user.User
}

func (m *mockUsers) GetByID(_ context.Context, id string) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

// --- Helpers ---

var pepper = []byte("test-pepper")

const (
	approvedKey   = "approved-key"
	pendingKey    = "pending-key"
	orphanKey     = "orphan-key"
	testOrderID   = "9b2e6f0c-1c7a-4a55-9e58-3f1d2a7c0b11"
	otherOrderID  = "other-order"
	approvedUser  = "u1"
	pendingUserID = "u2"
)

func newSecurity() *SecurityHandler {
	keys := &mockAPIKeys{byHash: map[string]*auth.APIKeyInfo{}}
	for key, uid := range map[string]string{approvedKey: approvedUser, pendingKey: pendingUserID, orphanKey: "ghost"} {
		h := HashKey(pepper, key)
		keys.byHash[h] = &auth.APIKeyInfo{ID: key, KeyHash: h, UserID: uid}
	}
	users := &mockUsers{byID: map[string]*user.User{
		approvedUser:  {ID: approvedUser, Approved: true},
		pendingUserID: {ID: pendingUserID, Approved: false},
	}}
	return NewSecurityHandler(keys, users, pepper)
}

func testOrder() *order.Order {
	return &order.Order{
		ID:           testOrderID,
		UserID:       approvedUser,
		Subtotal:     decimal.RequireFromString("34"),
		DiscountRate: decimal.RequireFromString("0.1"),
		Discount:     decimal.RequireFromString("3.4"),
		Tax:          decimal.RequireFromString("7.34"),
		TotalAmount:  decimal.RequireFromString("37.94"),
		CreatedAt:    time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Items: []order.Item{{
			ProductID: "p1",
			Quantity:  2,
			Price:     decimal.RequireFromString("17"),
			Product:   product.Product{SKU: "TAV101-EBN-SM", Name: "Pleated Long Sleeve Top"},
		}},
	}
}

type testEnv struct {
	handler  http.Handler
	orders   *mockOrders
	carts    *mockCarts
	renderer *mockRenderer
	cache    *mockCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, HandlerConfig{})
}

func newTestEnvWith(t *testing.T, cfg HandlerConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		orders: &mockOrders{
			finalized: testOrder(),
			byID: map[string]*order.Order{
				testOrderID:  testOrder(),
				otherOrderID: {ID: otherOrderID, UserID: "someone-else"},
			},
		},
		carts:    &mockCarts{},
		renderer: &mockRenderer{},
		cache:    &mockCache{data: map[string][]byte{}},
	}
	cfg.Cache = env.cache
	h, err := NewHandler(cfg, env.orders, env.carts, env.renderer)
	require.NoError(t, err)
	env.handler = h.Routes(newSecurity())
	return env
}

func (env *testEnv) do(method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// --- Tests ---

func TestCreateOrder_ReturnsPDF(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/orders", approvedKey)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=order-"+testOrderID+".pdf", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-"+testOrderID, rec.Body.String())
	assert.Equal(t, []byte("%PDF-"+testOrderID), env.cache.data[testOrderID])
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"empty cart", order.ErrEmptyCart, http.StatusBadRequest, "cart is empty"},
		{"user not found", order.ErrUserNotFound, http.StatusNotFound, "user not found"},
		{
			"insufficient stock",
			&order.InsufficientStockError{ProductID: "p1", Requested: 3, Available: 1},
			http.StatusConflict,
			"insufficient stock for product p1: requested 3, available 1",
		},
		{"persistence", errors.Wrap(order.ErrPersistence, "commit tx: connection reset"), http.StatusInternalServerError, "internal error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.orders.finErr = tt.err

			rec := env.do(http.MethodPost, "/orders", approvedKey)

			require.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Message)
			assert.Zero(t, env.renderer.calls)
		})
	}
}

func TestCreateOrder_RenderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.renderer.err = errors.Wrap(invoice.ErrGenerationFailed, "font missing")

	rec := env.do(http.MethodPost, "/orders", approvedKey)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to generate invoice", decodeError(t, rec).Message)
	assert.Empty(t, env.cache.data)
}

func TestGetInvoice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/orders/"+testOrderID+"/invoice", approvedKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-"+testOrderID, rec.Body.String())
	assert.Equal(t, 1, env.renderer.calls)

	// Second download is served from the cache.
	rec = env.do(http.MethodGet, "/orders/"+testOrderID+"/invoice", approvedKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.renderer.calls)
}

func TestGetInvoice_CacheErrorFallsBackToRender(t *testing.T) {
	env := newTestEnv(t)
	env.cache.getErr = errors.New("redis down")

	rec := env.do(http.MethodGet, "/orders/"+testOrderID+"/invoice", approvedKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.renderer.calls)
}

func TestGetInvoice_NotOwned(t *testing.T) {
	env := newTestEnv(t)
	env.cache.data[otherOrderID] = []byte("%PDF-secret")

	for _, id := range []string{otherOrderID, "missing"} {
		rec := env.do(http.MethodGet, "/orders/"+id+"/invoice", approvedKey)
		require.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "order not found", decodeError(t, rec).Message)
	}
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	env.orders.list = []order.Order{*testOrder()}

	rec := env.do(http.MethodGet, "/orders", approvedKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var body []struct {
		ID          string  `json:"id"`
		Subtotal    float64 `json:"subtotal"`
		Discount    float64 `json:"discount"`
		TotalAmount float64 `json:"totalAmount"`
		CreatedAt   string  `json:"createdAt"`
		Items       []struct {
			SKU       string  `json:"sku"`
			Quantity  int     `json:"quantity"`
			LineTotal float64 `json:"lineTotal"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, testOrderID, body[0].ID)
	assert.InDelta(t, 34.0, body[0].Subtotal, 0.001)
	assert.InDelta(t, 37.94, body[0].TotalAmount, 0.001)
	assert.Equal(t, "2025-03-14T09:30:00Z", body[0].CreatedAt)
	require.Len(t, body[0].Items, 1)
	assert.InDelta(t, 34.0, body[0].Items[0].LineTotal, 0.001)
	assert.Contains(t, rec.Body.String(), `"subtotal":34.00`)
}

func TestListOrders_Empty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/orders", approvedKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

func TestGetCart(t *testing.T) {
	testCart := &cart.Cart{ID: "c1", UserID: approvedUser, Items: []cart.Item{{
		ID:        "ci1",
		ProductID: "p3",
		Quantity:  3,
		Product: product.Product{
			ID:                 "p3",
			SKU:                "TAV102-LMT-SM",
			Name:               "Tavi Neck Bra",
			WholesalePrice:     decimal.RequireFromString("17.50"),
			DiscountPercentage: decimal.RequireFromString("15"),
			Stock:              9,
		},
	}}}

	tests := []struct {
		name      string
		source    pricing.Source
		wantName  string
		unitPrice float64
		subtotal  float64
	}{
		{"default is wholesale", "", "wholesale", 17.50, 52.50},
		{"wholesale", pricing.SourceWholesale, "wholesale", 17.50, 52.50},
		{"discounted", pricing.SourceDiscounted, "discounted", 14.88, 44.64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvWith(t, HandlerConfig{PriceSource: tt.source})
			env.carts.cart = testCart

			rec := env.do(http.MethodGet, "/cart", approvedKey)
			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				ID    string `json:"id"`
				Items []struct {
					SKU             string  `json:"sku"`
					DiscountedPrice float64 `json:"discountedPrice"`
					UnitPrice       float64 `json:"unitPrice"`
					LineTotal       float64 `json:"lineTotal"`
				} `json:"items"`
				PriceSource string  `json:"priceSource"`
				Subtotal    float64 `json:"subtotal"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "c1", body.ID)
			assert.Equal(t, tt.wantName, body.PriceSource)
			require.Len(t, body.Items, 1)
			assert.InDelta(t, 14.88, body.Items[0].DiscountedPrice, 0.001)
			assert.InDelta(t, tt.unitPrice, body.Items[0].UnitPrice, 0.001)
			assert.InDelta(t, tt.subtotal, body.Items[0].LineTotal, 0.001)
			assert.InDelta(t, tt.subtotal, body.Subtotal, 0.001)

			// Checkout prices the same lines with the same source.
			source := tt.source
			if source == "" {
				source, _ = pricing.ParseSource("")
			}
			lines := []pricing.Line{{Price: source.UnitPrice(testCart.Items[0].Product), Quantity: 3}}
			want, _ := pricing.Calculate(lines, decimal.Zero).Rounded().Subtotal.Float64()
			assert.InDelta(t, want, body.Subtotal, 0.001)
		})
	}
}

func TestGetCart_NoCart(t *testing.T) {
	env := newTestEnv(t)
	env.carts.err = cart.ErrNotFound

	rec := env.do(http.MethodGet, "/cart", approvedKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"priceSource":"wholesale","subtotal":0.00}`, rec.Body.String())
}

func TestSecurity(t *testing.T) {
	tests := []struct {
		name string
		key  string
		code int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"unknown key", "nope", http.StatusUnauthorized},
		{"owner missing", orphanKey, http.StatusUnauthorized},
		{"not approved", pendingKey, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(http.MethodPost, "/orders", tt.key)

			require.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Zero(t, env.orders.calls)
		})
	}
}

func TestSecurity_UserIDInContext(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(APIKeyHeader, approvedKey)
	newSecurity().Middleware(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, approvedUser, got)
}

func TestHashKey(t *testing.T) {
	h := HashKey(pepper, "key")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey(pepper, "key"))
	assert.NotEqual(t, h, HashKey([]byte("other"), "key"))

	// Known HMAC-SHA256 vector; seed-db stores keys with HashKey.
	assert.Equal(t, "4bb3a28be6ab1cd7fccaff520f37ed4a16bcdd124c6b042a722f80c2fedad885",
		HashKey([]byte("pepper"), "apitest"))
}

func TestAuthenticate_AcceptsHashKeyDigest(t *testing.T) {
	stored := HashKey([]byte("pepper"), "apitest")
	sec := NewSecurityHandler(
		&mockAPIKeys{byHash: map[string]*auth.APIKeyInfo{
			stored: {ID: "k1", KeyHash: stored, UserID: approvedUser},
		}},
		&mockUsers{byID: map[string]*user.User{approvedUser: {ID: approvedUser, Approved: true}}},
		[]byte("pepper"),
	)

	u, err := sec.Authenticate(context.Background(), "apitest")
	require.NoError(t, err)
	assert.Equal(t, approvedUser, u.ID)

	_, err = sec.Authenticate(context.Background(), "apitest2")
	require.Error(t, err)
}

func TestRoutes_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/nope", approvedKey)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decodeError(t, rec).Code)
}
