package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// GuestSessionHeader carries the anonymous cart session token in both directions.
const GuestSessionHeader = "X-Guest-Session"

// GuestSession attaches the guest token from GuestSessionHeader. Anonymous
// requests without one get a fresh token, echoed back in the response header;
// authenticated requests keep a presented token so the cart can be merged.
func GuestSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(GuestSessionHeader))
			if token != "" {
				if _, err := uuid.Parse(token); err != nil {
					respondAuthError(w, r, http.StatusBadRequest, "invalid_guest_session")
					return
				}
			}
			if _, authenticated := IdentityFromContext(r.Context()); token == "" && !authenticated {
				token = uuid.NewString()
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set(GuestSessionHeader, token)
			next.ServeHTTP(w, r.WithContext(WithGuestToken(r.Context(), token)))
		})
	}
}
