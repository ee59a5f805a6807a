package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventMeta identifies the provider event driving a reconciliation write.
type EventMeta struct {
	// ID is the provider event id (empty for manual syncs)
	ID string

	// Type is the provider event type, "sync" for manual syncs
	Type string

	// At is the provider timestamp of the event
	At time.Time
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// Store is the subscription table (required)
	Store SubscriptionStore

	// Provider is the provider name reported in ReconciledEvent
	Provider string

	// OnReconciled is invoked after every applied write
	OnReconciled func(ctx context.Context, event ReconciledEvent)

	Metrics Metrics
	Logger  Logger

	// Now returns the wall-clock time used for UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Reconciler is the only writer of subscription records. It converts provider
// snapshots into idempotent, timestamp-guarded upserts.
type Reconciler struct {
	store        SubscriptionStore
	provider     string
	onReconciled func(ctx context.Context, event ReconciledEvent)
	metrics      Metrics
	logger       Logger
	now          func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(config ReconcilerConfig) (*Reconciler, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: subscription store is required", ErrProviderNotConfigured)
	}
	r := &Reconciler{
		store:        config.Store,
		provider:     config.Provider,
		onReconciled: config.OnReconciled,
		metrics:      config.Metrics,
		logger:       config.Logger,
		now:          config.Now,
	}
	if r.metrics == nil {
		r.metrics = &NoopMetrics{}
	}
	if r.logger == nil {
		r.logger = &NoopLogger{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Apply upserts the account's record from a provider snapshot.
// Re-applying the same snapshot is a no-op (WriteUnchanged) and a snapshot from an
// event older than the stored one is discarded (WriteStale).
func (r *Reconciler) Apply(ctx context.Context, accountID string, snap Snapshot, meta EventMeta) (WriteResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidSubscription)
	}
	if snap.SubscriptionID == "" {
		return "", fmt.Errorf("%w: subscription id is required", ErrInvalidSubscription)
	}

	previous, err := r.previousStatus(ctx, accountID)
	if err != nil {
		return "", err
	}

	sub := &Subscription{
		AccountID:              accountID,
		ProviderSubscriptionID: snap.SubscriptionID,
		ProviderCustomerID:     snap.CustomerID,
		PlanID:                 snap.PlanID,
		Status:                 snap.Status,
		CurrentPeriodEnd:       utcPtr(snap.CurrentPeriodEnd),
		EventAt:                meta.At.UTC(),
		UpdatedAt:              r.now().UTC(),
	}

	result, err := r.store.UpsertSubscription(ctx, sub)
	if err != nil {
		r.logger.Error("subscription upsert failed",
			F("account_id", accountID), F("event_id", meta.ID), F("error", err))
		return "", fmt.Errorf("failed to upsert subscription for %s: %w", accountID, err)
	}

	r.finish(ctx, result, accountID, previous, sub.Status, sub.CurrentPeriodEnd, meta)
	return result, nil
}

// Cancel marks the account's subscription canceled without touching any other
// replicated field. A cancel for an account with no record is a logged no-op.
func (r *Reconciler) Cancel(ctx context.Context, accountID string, meta EventMeta) (WriteResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidSubscription)
	}

	existing, err := r.store.GetSubscription(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			r.logger.Info("cancel for account without subscription ignored",
				F("account_id", accountID), F("event_id", meta.ID))
			return WriteUnchanged, nil
		}
		return "", fmt.Errorf("failed to read subscription for %s: %w", accountID, err)
	}

	result, err := r.store.CancelSubscription(ctx, accountID, meta.At.UTC(), r.now().UTC())
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return WriteUnchanged, nil
		}
		r.logger.Error("subscription cancel failed",
			F("account_id", accountID), F("event_id", meta.ID), F("error", err))
		return "", fmt.Errorf("failed to cancel subscription for %s: %w", accountID, err)
	}

	r.finish(ctx, result, accountID, existing.Status, StatusCanceled, existing.CurrentPeriodEnd, meta)
	return result, nil
}

func (r *Reconciler) previousStatus(ctx context.Context, accountID string) (Status, error) {
	existing, err := r.store.GetSubscription(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read subscription for %s: %w", accountID, err)
	}
	return existing.Status, nil
}

func (r *Reconciler) finish(
	ctx context.Context, result WriteResult, accountID string,
	previous, next Status, periodEnd *time.Time, meta EventMeta,
) {
	switch result {
	case WriteStale:
		r.logger.Info("stale event discarded",
			F("account_id", accountID), F("event_id", meta.ID), F("event_type", meta.Type),
			F("event_at", meta.At))
		return
	case WriteUnchanged:
		r.logger.Debug("subscription already up to date",
			F("account_id", accountID), F("event_id", meta.ID))
		return
	}

	if previous != next {
		r.metrics.RecordStatusChange(string(previous), string(next))
	}
	r.logger.Info("subscription reconciled",
		F("account_id", accountID), F("event_id", meta.ID), F("event_type", meta.Type),
		F("previous_status", previous), F("status", next))

	if r.onReconciled != nil {
		r.onReconciled(ctx, ReconciledEvent{
			AccountID:        accountID,
			PreviousStatus:   previous,
			NewStatus:        next,
			Provider:         r.provider,
			EventType:        meta.Type,
			EventAt:          meta.At,
			CurrentPeriodEnd: periodEnd,
		})
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
