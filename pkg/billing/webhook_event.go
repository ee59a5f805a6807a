package billing

import "time"

// ReconciledEvent describes a successful reconciliation write.
// It is passed to the OnReconciled callback after the record has been stored.
type ReconciledEvent struct {
	// AccountID is the internal account identifier
	AccountID string

	// PreviousStatus is the status before the write (empty string if the account had no record)
	PreviousStatus Status

	// NewStatus is the status after the write
	NewStatus Status

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider event type, e.g. "customer.subscription.updated".
	// Manual syncs use "sync".
	EventType string

	// EventAt is when the event occurred (from provider)
	EventAt time.Time

	// CurrentPeriodEnd is the end of the paid period (nil when unknown)
	CurrentPeriodEnd *time.Time
}
