package billing

import (
	"context"
	"net/http"
	"time"
)

// Provider is the generic interface that a billing backend must implement.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles verification, parsing and reconciliation internally.
	WebhookHandler() http.Handler

	// SyncAccount forces a synchronization of the account's subscription from the provider.
	// This is used for "Restore Purchases" or nightly reconciliation jobs.
	SyncAccount(ctx context.Context, accountID string) (*Subscription, error)

	// Replay re-processes a previously verified event payload.
	// It is used by the deferred queue; the signature is not checked again.
	Replay(ctx context.Context, payload []byte) error
}

// DeferredEvent is a verified event whose account could not be resolved yet.
type DeferredEvent struct {
	EventID   string
	EventType string
	Payload   []byte
	Reason    string
	EventAt   time.Time
}

// Deferrer parks unresolved events for a later retry.
type Deferrer interface {
	Defer(ctx context.Context, event DeferredEvent) error
}
