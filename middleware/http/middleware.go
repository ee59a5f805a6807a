// Package http provides net/http middleware that restricts routes to accounts with paid access
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mihaimyh/jobgate/pkg/entitlement"
)

// Checker answers entitlement questions. *entitlement.Gate implements it.
type Checker interface {
	Check(ctx context.Context, accountID string) (entitlement.Entitlement, error)
}

// AccountIDExtractor extracts the account ID from an HTTP request
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Gate answers entitlement checks (required)
	Gate Checker

	// GetAccountID extracts the account ID from the request (required)
	GetAccountID AccountIDExtractor

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnPaymentRequired is called when the account has no paid access
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(w http.ResponseWriter, r *http.Request, ent entitlement.Entitlement)

	// OnError is called when the gate cannot answer
	// If nil, returns 503 Service Unavailable
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

type contextKey struct{}

// EntitlementFromContext returns the entitlement stored by RequireEntitlement.
func EntitlementFromContext(ctx context.Context) (entitlement.Entitlement, bool) {
	ent, ok := ctx.Value(contextKey{}).(entitlement.Entitlement)
	return ent, ok
}

// RequireEntitlement creates middleware that only lets entitled accounts through.
// A gate failure is never treated as "not entitled".
func RequireEntitlement(config Config) func(http.Handler) http.Handler {
	if config.Gate == nil {
		panic("jobgate/http: Config.Gate is required")
	}
	if config.GetAccountID == nil {
		panic("jobgate/http: Config.GetAccountID is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := config.GetAccountID(r)
			if accountID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeError(w, http.StatusUnauthorized, "unauthorized")
				}
				return
			}

			ent, err := config.Gate.Check(r.Context(), accountID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					if errors.Is(err, entitlement.ErrCircuitOpen) {
						w.Header().Set("Retry-After", "30")
					}
					writeError(w, http.StatusServiceUnavailable, "entitlement check unavailable")
				}
				return
			}

			if !ent.Entitled {
				if config.OnPaymentRequired != nil {
					config.OnPaymentRequired(w, r, ent)
				} else {
					writeError(w, http.StatusPaymentRequired, "paid subscription required")
				}
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, ent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromHeader returns an AccountIDExtractor that reads a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
