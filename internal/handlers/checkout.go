package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

// CheckoutHandlers exposes checkout endpoints for authenticated users.
type CheckoutHandlers struct {
	authn      *auth.Authenticator
	checkout   services.CheckoutService
	reconciler services.PaymentReconciler
	guard      func(http.Handler) http.Handler
}

// NewCheckoutHandlers wires checkout endpoints. guard, when set, wraps intent creation
// (the idempotency and rate limiting middleware).
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, reconciler services.PaymentReconciler, guard ...func(http.Handler) http.Handler) *CheckoutHandlers {
	h := &CheckoutHandlers{authn: authn, checkout: checkout, reconciler: reconciler}
	if len(guard) > 0 {
		h.guard = chainMiddleware(guard...)
	}
	return h
}

func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	create := http.Handler(http.HandlerFunc(h.createIntent))
	if h.guard != nil {
		create = h.guard(create)
	}
	group.Method(http.MethodPost, "/create-intent", create)
	group.Post("/confirm", h.confirm)
}

type createIntentRequest struct {
	ShippingAddress addressPayload  `json:"shippingAddress" validate:"required"`
	BillingAddress  *addressPayload `json:"billingAddress,omitempty"`
	PaymentMethodID string          `json:"paymentMethodId" validate:"omitempty,startswith=pm_"`
	Notes           string          `json:"notes" validate:"max=1000"`
}

type createIntentResponse struct {
	OrderID      string        `json:"orderId"`
	OrderNumber  string        `json:"orderNumber"`
	IntentID     string        `json:"paymentIntentId"`
	ClientSecret string        `json:"clientSecret"`
	Totals       totalsPayload `json:"totals"`
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required,startswith=pi_"`
}

func (h *CheckoutHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createIntentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	cmd := services.CreateIntentCommand{
		UserID:          identity.UID,
		Email:           identity.Email,
		ShippingAddress: req.ShippingAddress.toAddress(),
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		Notes:           req.Notes,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toAddress()
		cmd.BillingAddress = &billing
	}

	intent, err := h.checkout.CreateIntent(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, createIntentResponse{
		OrderID:      intent.OrderID,
		OrderNumber:  intent.OrderNumber,
		IntentID:     intent.IntentID,
		ClientSecret: intent.ClientSecret,
		Totals:       buildTotalsPayload(intent.Totals),
	})
}

// confirm asks the gateway for the intent's outcome; the client's own view of the payment is never trusted.
func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	order, err := h.reconciler.Confirm(ctx, services.ConfirmPaymentCommand{
		UserID:   identity.UID,
		IntentID: strings.TrimSpace(req.PaymentIntentID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func chainMiddleware(mw ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			if mw[i] != nil {
				next = mw[i](next)
			}
		}
		return next
	}
}
