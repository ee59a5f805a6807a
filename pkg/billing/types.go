package billing

import "time"

// Status is the provider's subscription status, stored verbatim.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Subscription is the canonical per-account subscription record.
// Exactly one record exists per AccountID.
type Subscription struct {
	AccountID              string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	PlanID                 *string
	Status                 Status
	CurrentPeriodEnd       *time.Time

	// EventAt is the provider timestamp of the event that produced this state.
	// Writes carrying an older EventAt are rejected as stale.
	EventAt time.Time

	// UpdatedAt is the wall-clock time of the last reconciliation write.
	UpdatedAt time.Time
}

// SameState reports whether two records carry the same replicated state.
// UpdatedAt is ignored.
func (s *Subscription) SameState(other *Subscription) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.AccountID == other.AccountID &&
		s.ProviderSubscriptionID == other.ProviderSubscriptionID &&
		s.ProviderCustomerID == other.ProviderCustomerID &&
		equalStringPtr(s.PlanID, other.PlanID) &&
		s.Status == other.Status &&
		equalTimePtr(s.CurrentPeriodEnd, other.CurrentPeriodEnd) &&
		s.EventAt.Equal(other.EventAt)
}

// CustomerMapping links a provider customer to an internal account.
// It is written at checkout time and only read by reconciliation.
type CustomerMapping struct {
	ProviderCustomerID string
	AccountID          string
	CreatedAt          time.Time
}

// AccountRef carries the identity hints found on a provider event.
type AccountRef struct {
	// AccountID is the internal account id from event metadata, if present
	AccountID string

	// CustomerID is the provider customer id, used for the reverse lookup
	CustomerID string
}

// Snapshot is a provider subscription resource reduced to the fields the record keeps.
type Snapshot struct {
	SubscriptionID   string
	CustomerID       string
	PlanID           *string
	Status           Status
	CurrentPeriodEnd *time.Time
}

// WriteResult describes what a reconciliation write did.
type WriteResult string

const (
	// WriteApplied means the record was inserted or replaced
	WriteApplied WriteResult = "applied"

	// WriteUnchanged means the stored record already held the incoming state
	WriteUnchanged WriteResult = "unchanged"

	// WriteStale means the stored record came from a newer event and was kept
	WriteStale WriteResult = "stale"
)

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
