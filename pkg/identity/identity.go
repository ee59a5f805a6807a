// Package identity resolves the calling account from an HTTP request.
package identity

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated is returned when a request carries no usable credentials
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotConfigured is returned when a lookup is built without its secret
	ErrNotConfigured = errors.New("identity lookup not configured")
)

// Roles recognized by the moderation endpoints.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// Identity is the authenticated caller.
type Identity struct {
	AccountID string
	Role      string
	Email     string
}

// HasRole reports whether the identity holds any of roles.
func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// Lookup extracts the caller's identity from a request.
type Lookup interface {
	Identify(r *http.Request) (Identity, error)
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// AccountID returns the caller's account id or "" when unauthenticated.
// Its signature matches the GetAccountID hooks of the middleware packages.
func AccountID(r *http.Request) string {
	id, ok := FromContext(r.Context())
	if !ok {
		return ""
	}
	return id.AccountID
}

// Authenticate resolves the caller with lookup and stores the identity on the
// request context. Requests without credentials pass through unauthenticated;
// handlers decide whether that is acceptable.
func Authenticate(lookup Lookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := lookup.Identify(r)
			if err == nil && id.AccountID != "" {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}
