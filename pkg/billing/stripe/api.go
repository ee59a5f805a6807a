package stripe

import (
	"context"
	"net/http"

	"github.com/stripe/stripe-go/v83"
)

// API is the subset of the Stripe API the provider calls.
type API interface {
	// RetrieveSubscription fetches the current state of a subscription
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)

	// ListSubscriptions returns every subscription of a customer, any status
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)

	// CreateCustomer creates a customer tagged with the account id
	CreateCustomer(ctx context.Context, accountID, email string) (*stripe.Customer, error)

	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
}

// clientAPI implements API on the stripe-go client.
type clientAPI struct {
	client *stripe.Client
}

// NewAPI builds an API backed by a stripe-go client. The client is owned by the
// caller's provider instance; nothing is stored in package globals.
func NewAPI(apiKey string, httpClient *http.Client) API {
	var opts []stripe.ClientOption
	if httpClient != nil {
		opts = append(opts, stripe.WithBackends(stripe.NewBackends(httpClient)))
	}
	return &clientAPI{client: stripe.NewClient(apiKey, opts...)}
}

func (c *clientAPI) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return c.client.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (c *clientAPI) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}

	var subs []*stripe.Subscription
	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *clientAPI) CreateCustomer(ctx context.Context, accountID, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerCreateParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(metadataAccountID, accountID)
	return c.client.V1Customers.Create(ctx, params)
}

func (c *clientAPI) CreateCheckoutSession(
	ctx context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	return c.client.V1CheckoutSessions.Create(ctx, params)
}

func (c *clientAPI) CreatePortalSession(
	ctx context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	return c.client.V1BillingPortalSessions.Create(ctx, params)
}
