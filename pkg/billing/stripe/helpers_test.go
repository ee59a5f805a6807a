package stripe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/storage/memory"
)

const (
	testWebhookSecret = "whsec_test_4f1c2a9d8e7b"
	testAPIKey        = "sk_test_51Hs9k2"
	testAccountID     = "acct_42"
	testCustomerID    = "cus_test_1"
	testSubID         = "sub_test_1"
	testPriceFeatured = "price_featured_monthly"
	testPricePremium  = "price_premium_monthly"
)

var testPeriodEnd = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory stand-in for the Stripe API.
type fakeAPI struct {
	mu             sync.Mutex
	subscriptions  map[string]*stripe.Subscription
	retrieveErr    error
	listErr        error
	customerErr    error
	retrieveCalls  int
	customersMade  int
	checkoutParams []*stripe.CheckoutSessionCreateParams
	portalParams   []*stripe.BillingPortalSessionCreateParams
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{subscriptions: make(map[string]*stripe.Subscription)}
}

func (f *fakeAPI) put(sub *stripe.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

func (f *fakeAPI) RetrieveSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveCalls++
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *fakeAPI) ListSubscriptions(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*stripe.Subscription
	for _, sub := range f.subscriptions {
		if sub.Customer != nil && sub.Customer.ID == customerID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateCustomer(_ context.Context, accountID, email string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.customerErr != nil {
		return nil, f.customerErr
	}
	f.customersMade++
	return &stripe.Customer{
		ID:       fmt.Sprintf("cus_new_%d", f.customersMade),
		Email:    email,
		Metadata: map[string]string{metadataAccountID: accountID},
	}, nil
}

func (f *fakeAPI) CreateCheckoutSession(
	_ context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutParams = append(f.checkoutParams, params)
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakeAPI) CreatePortalSession(
	_ context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portalParams = append(f.portalParams, params)
	return &stripe.BillingPortalSession{ID: "bps_test_1", URL: "https://billing.stripe.test/p/session"}, nil
}

// testClock returns a clock that advances one second per call, so every write
// gets a distinct UpdatedAt.
func testClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestProvider(t *testing.T, mutate ...func(*Config)) (*Provider, *memory.Storage, *fakeAPI) {
	t.Helper()
	storage := memory.New()
	api := newFakeAPI()
	config := Config{
		Config: billing.Config{
			Subscriptions: storage,
			Mappings:      storage,
			WebhookSecret: testWebhookSecret,
			APIKey:        testAPIKey,
			PriceTable: map[string]string{
				"featured": testPriceFeatured,
				"premium":  testPricePremium,
			},
		},
		API: api,
		Now: testClock(),
	}
	for _, m := range mutate {
		m(&config)
	}
	provider, err := NewProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return provider, storage, api
}

func apiSubscription(id, customerID, accountID string, status stripe.SubscriptionStatus, priceID string, created int64) *stripe.Subscription {
	sub := &stripe.Subscription{
		ID:       id,
		Status:   status,
		Created:  created,
		Customer: &stripe.Customer{ID: customerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:               "si_" + id,
					Price:            &stripe.Price{ID: priceID},
					CurrentPeriodEnd: testPeriodEnd.Unix(),
				},
			},
		},
	}
	if accountID != "" {
		sub.Metadata = map[string]string{metadataAccountID: accountID}
	}
	return sub
}

func subscriptionJSON(id, customerID, accountID, status, priceID string) string {
	metadata := "{}"
	if accountID != "" {
		metadata = fmt.Sprintf(`{"account_id":%q}`, accountID)
	}
	return fmt.Sprintf(`{"id":%q,"object":"subscription","customer":%q,"status":%q,"metadata":%s,`+
		`"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","price":{"id":%q,"object":"price"},`+
		`"current_period_end":%d}]}}`, id, customerID, status, metadata, priceID, testPeriodEnd.Unix())
}

func checkoutSessionJSON(mode, subscriptionID, customerID, clientReferenceID string) string {
	subscription := "null"
	if subscriptionID != "" {
		subscription = fmt.Sprintf("%q", subscriptionID)
	}
	return fmt.Sprintf(`{"id":"cs_test_1","object":"checkout.session","mode":%q,"subscription":%s,`+
		`"customer":%q,"client_reference_id":%q,"metadata":{}}`, mode, subscription, customerID, clientReferenceID)
}

func eventJSON(id, eventType string, created time.Time, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"api_version":"2020-08-27",`+
		`"livemode":false,"data":{"object":%s}}`, id, eventType, created.Unix(), object)
}

func signedRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func deliver(t *testing.T, provider *Provider, payload string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(rec, signedRequest(t, testWebhookSecret, payload))
	return rec
}

// failingSubscriptionStore fails every write.
type failingSubscriptionStore struct {
	*memory.Storage
	err error
}

func (s *failingSubscriptionStore) UpsertSubscription(context.Context, *billing.Subscription) (billing.WriteResult, error) {
	return "", s.err
}

// failingMappingStore fails every lookup.
type failingMappingStore struct {
	err error
}

func (s *failingMappingStore) AccountIDForCustomer(context.Context, string) (string, error) {
	return "", s.err
}

func (s *failingMappingStore) CustomerIDForAccount(context.Context, string) (string, error) {
	return "", s.err
}

func (s *failingMappingStore) PutCustomerMapping(context.Context, *billing.CustomerMapping) error {
	return s.err
}

func stripeEventType(s string) stripe.EventType {
	return stripe.EventType(s)
}
