package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver links provider events to internal accounts.
type Resolver struct {
	mappings CustomerMappingStore
	logger   Logger
}

// NewResolver creates a resolver. A nil mapping store means only explicit
// metadata can resolve an account.
func NewResolver(mappings CustomerMappingStore, logger Logger) *Resolver {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Resolver{mappings: mappings, logger: logger}
}

// Resolve returns the account for ref. An explicit account id wins; otherwise the
// customer id is looked up in the mapping store.
// Returns ErrAccountUnresolved when neither yields an account. Mapping store
// failures are returned wrapped so the caller can ask the provider to retry.
func (r *Resolver) Resolve(ctx context.Context, ref AccountRef) (string, error) {
	if id := strings.TrimSpace(ref.AccountID); id != "" {
		return id, nil
	}

	customerID := strings.TrimSpace(ref.CustomerID)
	if customerID == "" {
		return "", fmt.Errorf("%w: event carries no account id or customer id", ErrAccountUnresolved)
	}
	if r.mappings == nil {
		return "", fmt.Errorf("%w: no mapping store for customer %s", ErrAccountUnresolved, customerID)
	}

	accountID, err := r.mappings.AccountIDForCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrMappingNotFound) {
			return "", fmt.Errorf("%w: customer %s has no mapping", ErrAccountUnresolved, customerID)
		}
		r.logger.Error("customer mapping lookup failed",
			F("customer_id", customerID), F("error", err))
		return "", fmt.Errorf("failed to look up customer %s: %w", customerID, err)
	}
	if accountID == "" {
		return "", fmt.Errorf("%w: customer %s maps to an empty account", ErrAccountUnresolved, customerID)
	}
	return accountID, nil
}
