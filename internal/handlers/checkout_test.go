package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/services"
)

const validCheckoutBody = `{
	"shippingAddress": {"recipient":"Jane Doe","line1":"1 Main St","city":"Springfield","postalCode":"12345","country":"US"},
	"paymentMethodId": "pm_card_visa",
	"notes": "leave at door"
}`

func checkoutRouter(h *CheckoutHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/checkout", h.Routes)
	return router
}

func TestCheckoutHandlersCreateIntentSuccess(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(_ context.Context, cmd services.CreateIntentCommand) (services.CheckoutIntent, error) {
			if cmd.UserID != "user-1" {
				t.Fatalf("unexpected user %q", cmd.UserID)
			}
			if cmd.ShippingAddress.Recipient != "Jane Doe" || cmd.ShippingAddress.Country != "US" {
				t.Fatalf("unexpected shipping address %+v", cmd.ShippingAddress)
			}
			if cmd.BillingAddress != nil {
				t.Fatalf("expected no billing address, got %+v", cmd.BillingAddress)
			}
			if cmd.PaymentMethodID != "pm_card_visa" || cmd.Notes != "leave at door" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.CheckoutIntent{
				OrderID:      "01HZX",
				OrderNumber:  "ORD-20240512-ABC123",
				IntentID:     "pi_123",
				ClientSecret: "pi_123_secret_456",
				Totals:       services.OrderTotals{Subtotal: 6200, Shipping: 500, Tax: 496, Total: 7196, Currency: "usd"},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/create-intent", strings.NewReader(validCheckoutBody))
	req = req.WithContext(withUser(req.Context(), "user-1"))
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, svc, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["paymentIntentId"] != "pi_123" || body["clientSecret"] != "pi_123_secret_456" {
		t.Fatalf("unexpected intent payload %v", body)
	}
	if body["orderNumber"] != "ORD-20240512-ABC123" {
		t.Fatalf("unexpected order number %v", body["orderNumber"])
	}
	totals, _ := body["totals"].(map[string]any)
	if totals["total"] != float64(7196) {
		t.Fatalf("expected total 7196, got %v", totals["total"])
	}
}

func TestCheckoutHandlersCreateIntentErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "empty cart", err: services.ErrEmptyCart, status: http.StatusBadRequest, code: "empty_cart"},
		{name: "stock", err: &services.StockError{ProductID: "tee-1", Available: 0, Requested: 1}, status: http.StatusConflict, code: "insufficient_stock"},
		{name: "gateway rejected", err: services.ErrGateway, status: http.StatusBadGateway, code: "payment_gateway_error"},
		{name: "gateway down", err: services.ErrGatewayUnavailable, status: http.StatusServiceUnavailable, code: "payment_gateway_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCheckoutService{
				createFn: func(context.Context, services.CreateIntentCommand) (services.CheckoutIntent, error) {
					return services.CheckoutIntent{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/checkout/create-intent", strings.NewReader(validCheckoutBody))
			req = req.WithContext(withUser(req.Context(), "user-1"))
			rr := httptest.NewRecorder()
			checkoutRouter(NewCheckoutHandlers(nil, svc, nil)).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := decodeBody(t, rr)["error"]; code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, code)
			}
		})
	}
}

func TestCheckoutHandlersCreateIntentRejectsBadAddress(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(context.Context, services.CreateIntentCommand) (services.CheckoutIntent, error) {
			t.Fatal("service must not be called")
			return services.CheckoutIntent{}, nil
		},
	}
	payload := `{"shippingAddress":{"recipient":"Jane","line1":"1 Main","city":"X","postalCode":"1","country":"USA"}}`

	req := httptest.NewRequest(http.MethodPost, "/checkout/create-intent", strings.NewReader(payload))
	req = req.WithContext(withUser(req.Context(), "user-1"))
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, svc, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCreateIntentReplaysIdempotentRequest(t *testing.T) {
	var calls int32
	svc := &stubCheckoutService{
		createFn: func(context.Context, services.CreateIntentCommand) (services.CheckoutIntent, error) {
			atomic.AddInt32(&calls, 1)
			return services.CheckoutIntent{OrderID: "01HZX", OrderNumber: "ORD-1", IntentID: "pi_1", ClientSecret: "s"}, nil
		},
	}
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), idempotency.DefaultHeader, time.Hour)
	router := checkoutRouter(NewCheckoutHandlers(nil, svc, nil, guard.Middleware(true)))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout/create-intent", strings.NewReader(validCheckoutBody))
		req.Header.Set(idempotency.DefaultHeader, "checkout-key-1")
		req = req.WithContext(withUser(req.Context(), "user-1"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", first.Body.String(), second.Body.String())
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one intent creation, got %d", got)
	}
}

func TestCheckoutHandlersCreateIntentRequiresIdempotencyKey(t *testing.T) {
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), idempotency.DefaultHeader, time.Hour)
	router := checkoutRouter(NewCheckoutHandlers(nil, &stubCheckoutService{}, nil, guard.Middleware(true)))

	req := httptest.NewRequest(http.MethodPost, "/checkout/create-intent", strings.NewReader(validCheckoutBody))
	req = req.WithContext(withUser(req.Context(), "user-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersConfirm(t *testing.T) {
	paidAt := time.Date(2024, 5, 12, 11, 0, 0, 0, time.UTC)
	reconciler := &stubReconciler{
		confirmFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
			if cmd.UserID != "user-1" || cmd.IntentID != "pi_123" {
				t.Fatalf("unexpected confirm command %+v", cmd)
			}
			return services.Order{
				ID:            "01HZX",
				OrderNumber:   "ORD-1",
				UserID:        "user-1",
				Status:        "processing",
				PaymentStatus: "paid",
				PaidAt:        &paidAt,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/confirm", strings.NewReader(`{"paymentIntentId":"pi_123"}`))
	req = req.WithContext(withUser(req.Context(), "user-1"))
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, nil, reconciler)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["status"] != "processing" || body["paymentStatus"] != "paid" {
		t.Fatalf("unexpected order payload %v", body)
	}
	if body["paidAt"] != "2024-05-12T11:00:00Z" {
		t.Fatalf("unexpected paidAt %v", body["paidAt"])
	}
}

func TestCheckoutHandlersConfirmRejectsNonIntentID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/checkout/confirm", strings.NewReader(`{"paymentIntentId":"cs_123"}`))
	req = req.WithContext(withUser(req.Context(), "user-1"))
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, nil, &stubReconciler{})).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRequireUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/checkout/create-intent", strings.NewReader(validCheckoutBody))
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, &stubCheckoutService{}, nil)).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
