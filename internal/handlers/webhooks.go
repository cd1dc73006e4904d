package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives payment gateway callbacks. Signature verification happens in the reconciler
// on the exact bytes received.
type WebhookHandlers struct {
	reconciler services.PaymentReconciler
}

func NewWebhookHandlers(reconciler services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.payment)
}

type webhookResponse struct {
	Received    bool   `json:"received"`
	EventID     string `json:"eventId,omitempty"`
	Applied     bool   `json:"applied"`
	Ignored     bool   `json:"ignored"`
	NeedsReview bool   `json:"needsReview,omitempty"`
}

func (h *WebhookHandlers) payment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", status))
		return
	}

	result, err := h.reconciler.HandleWebhook(ctx, services.WebhookCommand{
		Payload:   payload,
		Signature: r.Header.Get(stripeSignatureHeader),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("webhook handled",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.Bool("applied", result.Applied),
		zap.Bool("ignored", result.Ignored),
		zap.Bool("needs_review", result.NeedsReview),
	)
	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:    true,
		EventID:     result.EventID,
		Applied:     result.Applied,
		Ignored:     result.Ignored,
		NeedsReview: result.NeedsReview,
	})
}
