// Package echo provides Echo middleware that restricts routes to accounts with paid access
package echo

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/jobgate/pkg/entitlement"
)

// EntitlementKey is the echo context key holding the caller's entitlement.
const EntitlementKey = "jobgate.entitlement"

// Checker answers entitlement questions. *entitlement.Gate implements it.
type Checker interface {
	Check(ctx context.Context, accountID string) (entitlement.Entitlement, error)
}

// AccountIDExtractor extracts the account ID from an Echo context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Gate answers entitlement checks (required)
	Gate Checker

	// GetAccountID extracts the account ID from context (required)
	GetAccountID AccountIDExtractor

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnPaymentRequired is called when the account has no paid access
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(c echo.Context, ent entitlement.Entitlement) error

	// OnError is called when the gate cannot answer
	// If nil, returns 503 Service Unavailable
	OnError func(c echo.Context, err error) error
}

// RequireEntitlement creates an Echo middleware that only lets entitled accounts through
func RequireEntitlement(cfg Config) echo.MiddlewareFunc {
	if cfg.Gate == nil {
		panic("jobgate/echo: Config.Gate is required")
	}
	if cfg.GetAccountID == nil {
		panic("jobgate/echo: Config.GetAccountID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID := cfg.GetAccountID(c)
			if accountID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			ent, err := cfg.Gate.Check(c.Request().Context(), accountID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				if errors.Is(err, entitlement.ErrCircuitOpen) {
					c.Response().Header().Set("Retry-After", "30")
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "entitlement check unavailable"})
			}

			if !ent.Entitled {
				if cfg.OnPaymentRequired != nil {
					return cfg.OnPaymentRequired(c, ent)
				}
				return c.JSON(http.StatusPaymentRequired, map[string]string{
					"error":  "paid subscription required",
					"status": string(ent.Status),
				})
			}

			c.Set(EntitlementKey, ent)
			return next(c)
		}
	}
}

// FromHeader returns an AccountIDExtractor that reads a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromContext returns an AccountIDExtractor that reads an echo context key
func FromContext(key string) AccountIDExtractor {
	return func(c echo.Context) string {
		if accountID, ok := c.Get(key).(string); ok {
			return accountID
		}
		return ""
	}
}
