package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/wholesale-orders/internal/domain/cart"
	"github.com/xenking/wholesale-orders/internal/domain/pricing"
)

// GetCart returns a read-only view of the caller's cart. Lines are priced
// with the same source checkout uses, so subtotal matches what
// POST /orders charges before discount and tax. A user without a cart gets
// an empty item list.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := h.carts.GetByUserID(ctx, UserIDFromContext(ctx))
	if err != nil && !errors.Is(err, cart.ErrNotFound) {
		h.fail(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			if c != nil {
				e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
			}
			subtotal := decimal.Zero
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					if c == nil {
						return
					}
					for _, it := range c.Items {
						price := h.priceSource.UnitPrice(it.Product)
						line := pricing.Line{Price: price, Quantity: it.Quantity}.Total()
						subtotal = subtotal.Add(line)

						e.Obj(func(e *jx.Encoder) {
							e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
							e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
							e.Field("sku", func(e *jx.Encoder) { e.Str(it.Product.SKU) })
							e.Field("name", func(e *jx.Encoder) { e.Str(it.Product.Name) })
							e.Field("color", func(e *jx.Encoder) { e.Str(it.Product.Color) })
							e.Field("size", func(e *jx.Encoder) { e.Str(it.Product.Size) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
							e.Field("wholesalePrice", func(e *jx.Encoder) { money(e, it.Product.WholesalePrice) })
							e.Field("discountPercentage", func(e *jx.Encoder) { e.Num(jx.Num(it.Product.DiscountPercentage.String())) })
							e.Field("discountedPrice", func(e *jx.Encoder) { money(e, it.Product.DiscountedPrice().Round(2)) })
							e.Field("unitPrice", func(e *jx.Encoder) { money(e, price) })
							e.Field("lineTotal", func(e *jx.Encoder) { money(e, line) })
							e.Field("stock", func(e *jx.Encoder) { e.Int(it.Product.Stock) })
						})
					}
				})
			})
			e.Field("priceSource", func(e *jx.Encoder) { e.Str(string(h.priceSource)) })
			e.Field("subtotal", func(e *jx.Encoder) { money(e, subtotal) })
		})
	})
}
