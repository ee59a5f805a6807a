// Package fiber provides Fiber middleware that restricts routes to accounts with paid access
package fiber

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/jobgate/pkg/entitlement"
)

// EntitlementKey is the fiber Locals key holding the caller's entitlement.
const EntitlementKey = "jobgate.entitlement"

// Checker answers entitlement questions. *entitlement.Gate implements it.
type Checker interface {
	Check(ctx context.Context, accountID string) (entitlement.Entitlement, error)
}

// AccountIDExtractor extracts the account ID from a Fiber context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Gate answers entitlement checks (required)
	Gate Checker

	// GetAccountID extracts the account ID from context (required)
	GetAccountID AccountIDExtractor

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnPaymentRequired is called when the account has no paid access
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(c *fiber.Ctx, ent entitlement.Entitlement) error

	// OnError is called when the gate cannot answer
	// If nil, returns 503 Service Unavailable
	OnError func(c *fiber.Ctx, err error) error
}

// RequireEntitlement creates a Fiber middleware that only lets entitled accounts through
func RequireEntitlement(cfg Config) fiber.Handler {
	if cfg.Gate == nil {
		panic("jobgate/fiber: Config.Gate is required")
	}
	if cfg.GetAccountID == nil {
		panic("jobgate/fiber: Config.GetAccountID is required")
	}

	return func(c *fiber.Ctx) error {
		accountID := cfg.GetAccountID(c)
		if accountID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		ent, err := cfg.Gate.Check(c.UserContext(), accountID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			if errors.Is(err, entitlement.ErrCircuitOpen) {
				c.Set(fiber.HeaderRetryAfter, "30")
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "entitlement check unavailable"})
		}

		if !ent.Entitled {
			if cfg.OnPaymentRequired != nil {
				return cfg.OnPaymentRequired(c, ent)
			}
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":  "paid subscription required",
				"status": ent.Status,
			})
		}

		c.Locals(EntitlementKey, ent)
		return c.Next()
	}
}

// FromHeader returns an AccountIDExtractor that reads a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromLocals returns an AccountIDExtractor that reads a Locals key set by an auth middleware
func FromLocals(key string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		if accountID, ok := c.Locals(key).(string); ok {
			return accountID
		}
		return ""
	}
}
