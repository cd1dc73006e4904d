package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/services"
)

const gatewayRetryAfterSeconds = "5"

// writeServiceError maps the service error taxonomy onto HTTP responses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch services.Classify(err) {
	case services.KindValidation:
		code := "invalid_request"
		switch {
		case errors.Is(err, services.ErrEmptyCart):
			code = "empty_cart"
		case errors.Is(err, services.ErrInvalidSignature):
			code = "invalid_signature"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
	case services.KindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case services.KindInsufficientStock:
		apiErr := httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict)
		if productID := services.ProductOf(err); productID != "" {
			apiErr = apiErr.WithDetails(map[string]any{"productId": productID})
		}
		httpx.WriteError(ctx, w, apiErr)
	case services.KindStateConflict:
		code := "state_conflict"
		switch {
		case errors.Is(err, services.ErrRefundWindowExpired):
			code = "refund_window_expired"
		case errors.Is(err, services.ErrRefundActive):
			code = "refund_active"
		case errors.Is(err, services.ErrOrderDisputed):
			code = "order_disputed"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusConflict))
	case services.KindGateway:
		requestctx.Logger(ctx).Warn("payment gateway rejected request", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment provider rejected the request", http.StatusBadGateway))
	case services.KindGatewayUnavailable:
		requestctx.Logger(ctx).Warn("payment gateway unavailable", zap.Error(err))
		w.Header().Set("Retry-After", gatewayRetryAfterSeconds)
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment provider unavailable, retry later", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireUser returns the signed-in user id or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
