package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

func TestSyncAccount_NoCustomerMapping(t *testing.T) {
	provider, _, _ := newTestProvider(t)

	_, err := provider.SyncAccount(context.Background(), testAccountID)

	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
}

func TestSyncAccount_NoSubscriptions(t *testing.T) {
	provider, storage, _ := newTestProvider(t)
	require.NoError(t, storage.PutCustomerMapping(context.Background(), &billing.CustomerMapping{
		ProviderCustomerID: testCustomerID,
		AccountID:          testAccountID,
	}))

	_, err := provider.SyncAccount(context.Background(), testAccountID)

	assert.ErrorIs(t, err, billing.ErrNoSubscription)
}

func TestSyncAccount_PicksMostRecentSubscription(t *testing.T) {
	provider, storage, api := newTestProvider(t)
	require.NoError(t, storage.PutCustomerMapping(context.Background(), &billing.CustomerMapping{
		ProviderCustomerID: testCustomerID,
		AccountID:          testAccountID,
	}))
	api.put(apiSubscription("sub_old", testCustomerID, testAccountID, stripe.SubscriptionStatusCanceled, testPriceFeatured, 100))
	api.put(apiSubscription("sub_new", testCustomerID, testAccountID, stripe.SubscriptionStatusActive, testPricePremium, 200))
	api.put(apiSubscription("sub_other", "cus_someone_else", "acct_other", stripe.SubscriptionStatusActive, testPricePremium, 300))

	sub, err := provider.SyncAccount(context.Background(), testAccountID)
	require.NoError(t, err)

	assert.Equal(t, "sub_new", sub.ProviderSubscriptionID)
	assert.Equal(t, billing.StatusActive, sub.Status)
	require.NotNil(t, sub.PlanID)
	assert.Equal(t, testPricePremium, *sub.PlanID)
}

func TestSyncAccount_OverridesOlderWebhookState(t *testing.T) {
	provider, storage, api := newTestProvider(t)
	require.NoError(t, storage.PutCustomerMapping(context.Background(), &billing.CustomerMapping{
		ProviderCustomerID: testCustomerID,
		AccountID:          testAccountID,
	}))
	_, err := storage.UpsertSubscription(context.Background(), &billing.Subscription{
		AccountID:              testAccountID,
		ProviderSubscriptionID: testSubID,
		ProviderCustomerID:     testCustomerID,
		Status:                 billing.StatusPastDue,
		EventAt:                time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	api.put(apiSubscription(testSubID, testCustomerID, testAccountID, stripe.SubscriptionStatusActive, testPriceFeatured, 1))

	sub, err := provider.SyncAccount(context.Background(), testAccountID)
	require.NoError(t, err)

	assert.Equal(t, billing.StatusActive, sub.Status)
}

func TestSyncAccount_ListFailure(t *testing.T) {
	provider, storage, api := newTestProvider(t)
	require.NoError(t, storage.PutCustomerMapping(context.Background(), &billing.CustomerMapping{
		ProviderCustomerID: testCustomerID,
		AccountID:          testAccountID,
	}))
	api.listErr = errors.New("stripe unavailable")

	_, err := provider.SyncAccount(context.Background(), testAccountID)

	assert.ErrorIs(t, err, billing.ErrProviderAPIError)
}

func TestSyncAccount_SameSecondDeleteStillCancels(t *testing.T) {
	webhookAt := time.Date(2026, 1, 20, 11, 59, 0, 0, time.UTC)
	syncAt := time.Date(2026, 1, 20, 12, 0, 0, 700_000_000, time.UTC)
	provider, storage, api := newTestProvider(t, func(c *Config) {
		c.Now = func() time.Time { return syncAt }
	})
	ctx := context.Background()
	require.NoError(t, storage.PutCustomerMapping(ctx, &billing.CustomerMapping{
		ProviderCustomerID: testCustomerID,
		AccountID:          testAccountID,
	}))
	api.put(apiSubscription(testSubID, testCustomerID, testAccountID, stripe.SubscriptionStatusActive, testPriceFeatured, 1))
	require.Equal(t, http.StatusOK, deliver(t, provider, updatedEvent("evt_1", webhookAt, testAccountID)).Code)

	sub, err := provider.SyncAccount(ctx, testAccountID)
	require.NoError(t, err)
	assert.True(t, sub.EventAt.Equal(webhookAt), "sync must keep the provider event time, got %s", sub.EventAt)

	// Stripe stamps the delete in whole seconds, inside the second the sync ran.
	deleted := eventJSON("evt_2", EventCustomerSubscriptionDeleted, syncAt.Truncate(time.Second),
		subscriptionJSON(testSubID, testCustomerID, testAccountID, "canceled", testPriceFeatured))
	require.Equal(t, http.StatusOK, deliver(t, provider, deleted).Code)

	after, err := storage.GetSubscription(ctx, testAccountID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, after.Status)
}

func TestSyncAccount_UsesStripeTimeWithoutRecord(t *testing.T) {
	provider, storage, api := newTestProvider(t)
	ctx := context.Background()
	require.NoError(t, storage.PutCustomerMapping(ctx, &billing.CustomerMapping{
		ProviderCustomerID: testCustomerID,
		AccountID:          testAccountID,
	}))
	started := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	sub := apiSubscription(testSubID, testCustomerID, testAccountID, stripe.SubscriptionStatusActive, testPriceFeatured, started.Add(-time.Minute).Unix())
	sub.StartDate = started.Unix()
	api.put(sub)

	got, err := provider.SyncAccount(ctx, testAccountID)
	require.NoError(t, err)
	assert.True(t, got.EventAt.Equal(started))
}
