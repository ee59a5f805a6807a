package identity

import "net/http"

// HeaderLookup trusts identity headers set by an upstream proxy.
// Only use it behind a gateway that strips these headers from client traffic.
type HeaderLookup struct {
	AccountHeader string // default "X-Account-ID"
	RoleHeader    string // default "X-Account-Role"
}

// Identify implements Lookup
func (h HeaderLookup) Identify(r *http.Request) (Identity, error) {
	accountHeader := h.AccountHeader
	if accountHeader == "" {
		accountHeader = "X-Account-ID"
	}
	roleHeader := h.RoleHeader
	if roleHeader == "" {
		roleHeader = "X-Account-Role"
	}

	accountID := r.Header.Get(accountHeader)
	if accountID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{AccountID: accountID, Role: r.Header.Get(roleHeader)}, nil
}
