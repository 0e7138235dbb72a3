// Package handler exposes order finalization and invoices over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/wholesale-orders/internal/domain/cart"
	"github.com/xenking/wholesale-orders/internal/domain/order"
	"github.com/xenking/wholesale-orders/internal/domain/pricing"
)

// Orders is the order service used by the handlers.
type Orders interface {
	Finalize(ctx context.Context, userID string) (*order.Order, error)
	List(ctx context.Context, userID string) ([]order.Order, error)
	Get(ctx context.Context, userID, orderID string) (*order.Order, error)
}

// Renderer produces invoice PDFs.
type Renderer interface {
	Render(ctx context.Context, o *order.Order) ([]byte, error)
}

// InvoiceCache stores rendered invoices by order id. Get returns an error
// on a miss.
type InvoiceCache interface {
	Get(ctx context.Context, orderID string) ([]byte, error)
	Set(ctx context.Context, orderID string, pdf []byte) error
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	MeterProvider metric.MeterProvider
	// PriceSource prices the cart view. It must match the order service's
	// source. Defaults to wholesale.
	PriceSource pricing.Source
	// Cache is optional.
	Cache InvoiceCache
}

// Handler serves the /api routes.
type Handler struct {
	orders   Orders
	carts    cart.Repository
	renderer Renderer
	cache    InvoiceCache

	priceSource pricing.Source

	finalized metric.Int64Counter
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, orders Orders, carts cart.Repository, renderer Renderer) (*Handler, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = noop.NewMeterProvider()
	}
	if cfg.PriceSource == "" {
		cfg.PriceSource = pricing.SourceWholesale
	}
	finalized, err := cfg.MeterProvider.Meter("handler").Int64Counter("orders.finalized",
		metric.WithDescription("Orders created from carts"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}

	return &Handler{
		orders:    orders,
		carts:     carts,
		renderer:  renderer,
		cache:     cfg.Cache,

		priceSource: cfg.PriceSource,
		finalized: finalized,
	}, nil
}

// Routes returns the API router. Every route requires a valid API key.
func (h *Handler) Routes(sec *SecurityHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(sec.Middleware)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{orderID}/invoice", h.GetInvoice)
	})
	r.Get("/cart", h.GetCart)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
