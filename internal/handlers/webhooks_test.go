package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/services"
)

func webhookRouter(reconciler services.PaymentReconciler) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(reconciler).Routes)
	return router
}

func TestWebhookHandlersForwardsRawPayload(t *testing.T) {
	const payload = `{"id":"evt_1","type":"payment_intent.succeeded"}`
	reconciler := &stubReconciler{
		webhookFn: func(_ context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
			if string(cmd.Payload) != payload {
				t.Fatalf("payload altered: %q", cmd.Payload)
			}
			if cmd.Signature != "t=1,v1=abc" {
				t.Fatalf("unexpected signature %q", cmd.Signature)
			}
			return services.WebhookResult{EventID: "evt_1", EventType: "payment_intent.succeeded", OrderNumber: "ORD-1", Applied: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	webhookRouter(reconciler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["received"] != true || body["applied"] != true || body["eventId"] != "evt_1" {
		t.Fatalf("unexpected response %v", body)
	}
}

func TestWebhookHandlersInvalidSignature(t *testing.T) {
	reconciler := &stubReconciler{
		webhookFn: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{}, services.ErrInvalidSignature
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookRouter(reconciler).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["error"]; code != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %v", code)
	}
}

func TestWebhookHandlersAcknowledgesIgnoredEvents(t *testing.T) {
	reconciler := &stubReconciler{
		webhookFn: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{EventID: "evt_2", EventType: "customer.created", Ignored: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookRouter(reconciler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ignored := decodeBody(t, rr)["ignored"]; ignored != true {
		t.Fatalf("expected ignored=true, got %v", ignored)
	}
}

func TestWebhookHandlersSurfacesReviewFlag(t *testing.T) {
	reconciler := &stubReconciler{
		webhookFn: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{EventID: "evt_3", EventType: "payment_intent.succeeded", OrderNumber: "ORD-3", NeedsReview: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookRouter(reconciler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["applied"] != false || body["needsReview"] != true {
		t.Fatalf("expected unapplied event flagged for review, got %v", body)
	}
}

func TestWebhookHandlersRejectsOversizedBody(t *testing.T) {
	reconciler := &stubReconciler{
		webhookFn: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
			t.Fatal("reconciler must not be called")
			return services.WebhookResult{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(strings.Repeat("a", maxWebhookBodySize+1)))
	rr := httptest.NewRecorder()
	webhookRouter(reconciler).ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestWebhookHandlersRetryableFailure(t *testing.T) {
	reconciler := &stubReconciler{
		webhookFn: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{}, services.ErrGatewayUnavailable
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookRouter(reconciler).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 so the gateway retries, got %d", rr.Code)
	}
}
