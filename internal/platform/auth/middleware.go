package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into request identities.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// NewAuthenticator builds the middleware factory around verifier.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
}

// RequireFirebaseAuth rejects requests without a valid token. When roles are
// given the identity must carry at least one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, status, code := a.authenticate(r)
			if identity == nil {
				if status == 0 {
					status, code = http.StatusUnauthorized, "unauthenticated"
				}
				respondAuthError(w, r, status, code)
				return
			}
			if len(roles) > 0 && !hasAnyRole(identity, roles) {
				respondAuthError(w, r, http.StatusForbidden, "insufficient_role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalFirebaseAuth attaches the identity when a bearer token is present
// and lets anonymous requests through. A present but invalid token is rejected.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bearerToken(r.Header.Get("Authorization")); !ok {
				next.ServeHTTP(w, r)
				return
			}
			identity, status, code := a.authenticate(r)
			if identity == nil {
				respondAuthError(w, r, status, code)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, int, string) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, 0, ""
	}
	if a == nil || a.verifier == nil {
		return nil, http.StatusUnauthorized, "unauthenticated"
	}
	token, err := a.verifier.VerifyIDToken(r.Context(), raw)
	if err != nil {
		if firebaseauth.IsIDTokenExpired(err) {
			return nil, http.StatusUnauthorized, "token_expired"
		}
		return nil, http.StatusUnauthorized, "invalid_token"
	}
	identity := &Identity{
		UID:   token.UID,
		Email: claimString(token.Claims, "email"),
		Roles: claimRoles(token.Claims[a.roleClaim]),
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleCustomer}
	}
	return identity, 0, ""
}

func hasAnyRole(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

func claimRoles(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []string:
		values = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := normaliseRole(value)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

var authMessages = map[string]string{
	"unauthenticated":          "authorization header missing or invalid",
	"token_expired":            "id token expired",
	"invalid_token":            "id token invalid",
	"insufficient_role":        "identity does not have the required role",
	"invalid_guest_session":    "guest session token must be a UUID",
	"verification_unavailable": "token verification unavailable",
}

func respondAuthError(w http.ResponseWriter, r *http.Request, status int, code string) {
	message := authMessages[code]
	if message == "" {
		message = code
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
