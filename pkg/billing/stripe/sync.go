package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

// SyncAccount pulls the account's subscription straight from Stripe and reconciles it.
// The write is stamped with Stripe-side time (see syncEventTime), never the local
// clock, so a webhook Stripe creates after the fetch still passes the event-time guard.
// Returns billing.ErrCustomerNotFound when the account never went through checkout
// and billing.ErrNoSubscription when the customer has no subscriptions.
func (p *Provider) SyncAccount(ctx context.Context, accountID string) (*billing.Subscription, error) {
	startTime := time.Now()
	sub, err := p.syncAccount(ctx, strings.TrimSpace(accountID))

	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAccountSync(providerName, status)
	p.metrics.RecordAccountSyncDuration(providerName, time.Since(startTime))
	return sub, err
}

func (p *Provider) syncAccount(ctx context.Context, accountID string) (*billing.Subscription, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", billing.ErrInvalidSubscription)
	}

	customerID, err := p.customerForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	const endpoint = "/v1/subscriptions"
	start := time.Now()
	subs, err := p.api.ListSubscriptions(ctx, customerID)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return nil, fmt.Errorf("%w: list subscriptions for %s: %w", billing.ErrProviderAPIError, customerID, err)
	}
	p.metrics.RecordAPICall(providerName, endpoint, "success")

	latest := latestSubscription(subs)
	if latest == nil {
		return nil, fmt.Errorf("%w: customer %s", billing.ErrNoSubscription, customerID)
	}

	at, err := p.syncEventTime(ctx, accountID, latest)
	if err != nil {
		return nil, err
	}
	meta := billing.EventMeta{Type: "sync", At: at}
	if _, err := p.reconciler.Apply(ctx, accountID, snapshotFromSubscription(latest), meta); err != nil {
		return nil, err
	}

	p.logger.Info("account synced from stripe",
		billing.F("account_id", accountID), billing.F("customer_id", customerID),
		billing.F("subscription_id", latest.ID), billing.F("status", string(latest.Status)))

	return p.store.GetSubscription(ctx, accountID)
}

func (p *Provider) customerForAccount(ctx context.Context, accountID string) (string, error) {
	if p.mappings == nil {
		return "", fmt.Errorf("%w: no customer mapping store", billing.ErrCustomerNotFound)
	}
	customerID, err := p.mappings.CustomerIDForAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, billing.ErrMappingNotFound) {
			return "", fmt.Errorf("%w: account %s", billing.ErrCustomerNotFound, accountID)
		}
		return "", fmt.Errorf("failed to look up customer for %s: %w", accountID, err)
	}
	return customerID, nil
}

// syncEventTime is the later of the stored event time and the newest timestamp
// Stripe put on the subscription. Both come from Stripe's clock in whole seconds,
// so any event Stripe creates afterwards is >= the sync write.
func (p *Provider) syncEventTime(ctx context.Context, accountID string, sub *stripe.Subscription) (time.Time, error) {
	at := subscriptionTime(sub)
	existing, err := p.store.GetSubscription(ctx, accountID)
	switch {
	case errors.Is(err, billing.ErrSubscriptionNotFound):
	case err != nil:
		return time.Time{}, fmt.Errorf("failed to read subscription for %s: %w", accountID, err)
	case existing.EventAt.After(at):
		at = existing.EventAt
	}
	return at.UTC(), nil
}

func subscriptionTime(sub *stripe.Subscription) time.Time {
	var newest int64
	for _, ts := range []int64{sub.Created, sub.StartDate, sub.CanceledAt, sub.EndedAt} {
		if ts > newest {
			newest = ts
		}
	}
	return time.Unix(newest, 0).UTC()
}

// latestSubscription picks the most recently created subscription; the account
// model holds one subscription, and the newest reflects the customer's current choice.
func latestSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var latest *stripe.Subscription
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if latest == nil || sub.Created > latest.Created {
			latest = sub
		}
	}
	return latest
}
