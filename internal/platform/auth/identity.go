package auth

import (
	"context"
	"strings"
)

// Roles carried in the Firebase "role" custom claim.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Identity is the authenticated shopper or staff member behind a request.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the identity may use the admin endpoints.
func (i *Identity) IsStaff() bool {
	return i.HasRole(RoleStaff) || i.HasRole(RoleAdmin)
}

type (
	identityKey struct{}
	guestKey    struct{}
)

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity attached by the Firebase middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// WithGuestToken stores the anonymous cart session token.
func WithGuestToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, guestKey{}, strings.TrimSpace(token))
}

// GuestTokenFromContext returns the guest session token, or "".
func GuestTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(guestKey{}).(string)
	return token
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
