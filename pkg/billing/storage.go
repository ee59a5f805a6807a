package billing

import (
	"context"
	"time"
)

// SubscriptionReader is the read side of the subscription table.
type SubscriptionReader interface {
	// GetSubscription returns the account's record or ErrSubscriptionNotFound
	GetSubscription(ctx context.Context, accountID string) (*Subscription, error)
}

// SubscriptionStore persists subscription records.
// All methods use concrete types from this package to avoid import cycles.
type SubscriptionStore interface {
	SubscriptionReader

	// UpsertSubscription inserts or fully replaces the record keyed on AccountID.
	// The write only happens when sub.EventAt is not older than the stored EventAt
	// and the replicated state differs; otherwise WriteStale or WriteUnchanged is returned.
	UpsertSubscription(ctx context.Context, sub *Subscription) (WriteResult, error)

	// CancelSubscription sets the status to canceled, leaving every other field
	// except EventAt and UpdatedAt untouched.
	// Returns ErrSubscriptionNotFound when the account has no record.
	CancelSubscription(ctx context.Context, accountID string, eventAt, updatedAt time.Time) (WriteResult, error)
}

// CustomerMappingStore holds the provider-customer to account association.
type CustomerMappingStore interface {
	// AccountIDForCustomer returns the mapped account or ErrMappingNotFound
	AccountIDForCustomer(ctx context.Context, customerID string) (string, error)

	// CustomerIDForAccount returns the mapped customer or ErrMappingNotFound
	CustomerIDForAccount(ctx context.Context, accountID string) (string, error)

	// PutCustomerMapping records the association. Only the checkout flow calls it.
	// Mapping an account that already has a different customer returns ErrMappingConflict.
	PutCustomerMapping(ctx context.Context, mapping *CustomerMapping) error
}
