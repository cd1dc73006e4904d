package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestGuestSession(t *testing.T) {
	var token string
	handler := GuestSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = GuestTokenFromContext(r.Context())
	}))

	t.Run("issues token for anonymous request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
		if _, err := uuid.Parse(token); err != nil {
			t.Fatalf("expected uuid token, got %q", token)
		}
		if rec.Header().Get(GuestSessionHeader) != token {
			t.Fatalf("expected token echoed in header")
		}
	})

	t.Run("keeps presented token", func(t *testing.T) {
		presented := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		req.Header.Set(GuestSessionHeader, presented)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if token != presented {
			t.Fatalf("expected %s, got %s", presented, token)
		}
	})

	t.Run("authenticated request without token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "u1"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if token != "" || rec.Header().Get(GuestSessionHeader) != "" {
			t.Fatalf("expected no guest token for signed-in user, got %q", token)
		}
	})

	t.Run("rejects malformed token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		req.Header.Set(GuestSessionHeader, "not-a-uuid")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}
