package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/platform/auth"
)

func TestRateLimitPerCaller(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	handler := RateLimit(2, time.Minute, clock)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout/create-intent", nil)
		req = req.WithContext(withUser(req.Context(), uid))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("user-1"); rr.Code != http.StatusNoContent {
			t.Fatalf("call %d: expected 204, got %d", i, rr.Code)
		}
	}
	limited := send("user-1")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", limited.Header().Get("Retry-After"))
	}
	if code := decodeBody(t, limited)["error"]; code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %v", code)
	}
	if rr := send("user-2"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected other caller to pass, got %d", rr.Code)
	}

	now = now.Add(20 * time.Second)
	if got := send("user-1").Header().Get("Retry-After"); got != "40" {
		t.Fatalf("expected Retry-After 40 after 20s, got %q", got)
	}

	now = now.Add(time.Minute + time.Second)
	if rr := send("user-1"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimit(0, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
	}
}

func TestRateKeyPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/refunds/request", nil)
	req.RemoteAddr = "203.0.113.7:4431"
	if key := rateKey(req); key != "ip:203.0.113.7" {
		t.Fatalf("expected ip key, got %q", key)
	}

	guestCtx := auth.WithGuestToken(context.Background(), "guest-1")
	if key := rateKey(req.WithContext(guestCtx)); key != "guest:guest-1" {
		t.Fatalf("expected guest key, got %q", key)
	}

	if key := rateKey(req.WithContext(withUser(guestCtx, "user-9"))); key != "user:user-9" {
		t.Fatalf("expected user key to win, got %q", key)
	}
}
