package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/cache"
	"github.com/xenking/wholesale-orders/internal/domain/order"
)

// CreateOrder checks out the caller's cart and responds with the invoice PDF.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := UserIDFromContext(ctx)

	o, err := h.orders.Finalize(ctx, userID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.finalized.Add(ctx, 1)

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	lg.Info("Order finalized",
		zap.Int("items", len(o.Items)),
		zap.Stringer("total", o.TotalAmount),
	)

	pdf, err := h.renderer.Render(ctx, o)
	if err != nil {
		// The order is committed; the invoice can be fetched again later.
		h.fail(ctx, w, err)
		return
	}
	h.storeInvoice(ctx, o.ID, pdf)

	writePDF(w, o.ID, pdf)
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orders, err := h.orders.List(ctx, UserIDFromContext(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

// GetInvoice re-renders the invoice of an order owned by the caller.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	// Ownership is checked before serving anything, cached or not.
	o, err := h.orders.Get(ctx, UserIDFromContext(ctx), orderID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	if pdf, ok := h.cachedInvoice(ctx, o.ID); ok {
		writePDF(w, o.ID, pdf)
		return
	}

	pdf, err := h.renderer.Render(ctx, o)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.storeInvoice(ctx, o.ID, pdf)

	writePDF(w, o.ID, pdf)
}

func (h *Handler) cachedInvoice(ctx context.Context, orderID string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	pdf, err := h.cache.Get(ctx, orderID)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			zctx.From(ctx).Warn("Invoice cache read failed", zap.String("order_id", orderID), zap.Error(err))
		}
		return nil, false
	}
	return pdf, true
}

func (h *Handler) storeInvoice(ctx context.Context, orderID string, pdf []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, orderID, pdf); err != nil {
		zctx.From(ctx).Warn("Invoice cache write failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func writePDF(w http.ResponseWriter, orderID string, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=order-%s.pdf", orderID))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("discountRate", func(e *jx.Encoder) { e.Num(jx.Num(o.DiscountRate.String())) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("tax", func(e *jx.Encoder) { money(e, o.Tax) })
		e.Field("totalAmount", func(e *jx.Encoder) { money(e, o.TotalAmount) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(it.Product.SKU) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Product.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
						e.Field("lineTotal", func(e *jx.Encoder) { money(e, it.LineTotal()) })
					})
				}
			})
		})
	})
}
