package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/services"
)

// InternalHandlers serves service-to-service maintenance endpoints. The router
// guards the group with OIDC middleware.
type InternalHandlers struct {
	reconciler services.PaymentReconciler
}

// NewInternalHandlers wires internal endpoints.
func NewInternalHandlers(reconciler services.PaymentReconciler) *InternalHandlers {
	return &InternalHandlers{reconciler: reconciler}
}

// Routes registers /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{intentId}/sync", h.syncPayment)
}

func (h *InternalHandlers) syncPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if !strings.HasPrefix(intentID, "pi_") {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "intentId must be a payment intent id", http.StatusBadRequest))
		return
	}
	order, err := h.reconciler.Sync(ctx, intentID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	caller := ""
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = svc.Email
		if caller == "" {
			caller = svc.Subject
		}
	}
	requestctx.Logger(ctx).Info("payment synced",
		zap.String("intentId", intentID),
		zap.String("orderNumber", order.OrderNumber),
		zap.String("caller", caller),
	)
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
