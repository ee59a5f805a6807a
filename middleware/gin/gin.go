// Package gin provides Gin middleware that restricts routes to accounts with paid access
package gin

import (
	"context"
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/jobgate/pkg/entitlement"
)

// EntitlementKey is the gin context key holding the caller's entitlement.
const EntitlementKey = "jobgate.entitlement"

// Checker answers entitlement questions. *entitlement.Gate implements it.
type Checker interface {
	Check(ctx context.Context, accountID string) (entitlement.Entitlement, error)
}

// AccountIDExtractor extracts the account ID from a Gin context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Gate answers entitlement checks (required)
	Gate Checker

	// GetAccountID extracts the account ID from context (required)
	GetAccountID AccountIDExtractor

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnPaymentRequired is called when the account has no paid access
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(c *gongin.Context, ent entitlement.Entitlement)

	// OnError is called when the gate cannot answer
	// If nil, returns 503 Service Unavailable
	OnError func(c *gongin.Context, err error)
}

// RequireEntitlement creates a Gin middleware that only lets entitled accounts through
func RequireEntitlement(cfg Config) gongin.HandlerFunc {
	if cfg.Gate == nil {
		panic("jobgate/gin: Config.Gate is required")
	}
	if cfg.GetAccountID == nil {
		panic("jobgate/gin: Config.GetAccountID is required")
	}

	return func(c *gongin.Context) {
		accountID := cfg.GetAccountID(c)
		if accountID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		ent, err := cfg.Gate.Check(c.Request.Context(), accountID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				if errors.Is(err, entitlement.ErrCircuitOpen) {
					c.Header("Retry-After", "30")
				}
				c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "entitlement check unavailable"})
			}
			c.Abort()
			return
		}

		if !ent.Entitled {
			if cfg.OnPaymentRequired != nil {
				cfg.OnPaymentRequired(c, ent)
			} else {
				c.JSON(http.StatusPaymentRequired, gongin.H{
					"error":  "paid subscription required",
					"status": ent.Status,
				})
			}
			c.Abort()
			return
		}

		c.Set(EntitlementKey, ent)
		c.Next()
	}
}

// FromHeader returns an AccountIDExtractor that reads a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromContext returns an AccountIDExtractor that reads a gin context key set by an auth middleware
func FromContext(key string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}
