package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/entitlement"
	"github.com/mihaimyh/jobgate/pkg/identity"
	"github.com/mihaimyh/jobgate/pkg/moderation"
)

// EntitlementChecker answers entitlement questions. *entitlement.Gate implements it.
type EntitlementChecker interface {
	Check(ctx context.Context, accountID string) (entitlement.Entitlement, error)
	Invalidate(accountID string)
}

// Billing is the provider surface used by the account endpoints.
// *stripe.Provider implements it.
type Billing interface {
	SyncAccount(ctx context.Context, accountID string) (*billing.Subscription, error)
	CheckoutURL(ctx context.Context, accountID, email, plan, successURL, cancelURL string) (string, error)
	PortalURL(ctx context.Context, accountID, returnURL string) (string, error)
}

// Approver approves job posts. *moderation.Service implements it.
type Approver interface {
	Approve(ctx context.Context, postID string) (*moderation.Post, error)
}

// Config holds configuration for the API handler
type Config struct {
	// Gate serves the entitlement endpoint (required)
	Gate EntitlementChecker

	// Billing serves sync, checkout and portal. Nil disables those routes.
	Billing Billing

	// Moderation serves post approval. Nil disables the route.
	Moderation Approver

	// GetIdentity extracts the caller from the request.
	// If nil, reads the identity stored by identity.Authenticate.
	GetIdentity func(*http.Request) (identity.Identity, bool)

	// GetPostID extracts the post id path parameter.
	// If nil, uses r.PathValue("id").
	GetPostID func(*http.Request) string

	// ModeratorRoles may approve posts (default admin and moderator)
	ModeratorRoles []string

	// OnError overrides the default JSON error responses
	OnError func(http.ResponseWriter, *http.Request, error)

	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Gate == nil {
		return fmt.Errorf("gate is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetIdentity == nil {
		config.GetIdentity = func(r *http.Request) (identity.Identity, bool) {
			return identity.FromContext(r.Context())
		}
	}
	if config.GetPostID == nil {
		config.GetPostID = func(r *http.Request) string { return r.PathValue("id") }
	}
	if len(config.ModeratorRoles) == 0 {
		config.ModeratorRoles = []string{identity.RoleAdmin, identity.RoleModerator}
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	return &Handler{config: config}, nil
}
