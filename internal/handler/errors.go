package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/order"
	"github.com/xenking/wholesale-orders/internal/invoice"
)

// mapError converts domain errors to a status code and a client-safe
// message. Unknown errors become a generic 500.
func mapError(err error) (int, string) {
	var stockErr *order.InsufficientStockError
	switch {
	case errors.Is(err, order.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, order.ErrEmptyCart):
		return http.StatusBadRequest, "cart is empty"
	case errors.As(err, &stockErr):
		return http.StatusConflict, stockErr.Error()
	case errors.Is(err, invoice.ErrGenerationFailed):
		return http.StatusInternalServerError, "failed to generate invoice"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code, msg := mapError(err)
	if code >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	} else {
		zctx.From(ctx).Debug("Request rejected", zap.Int("code", code), zap.Error(err))
	}
	writeError(w, code, msg)
}
