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

// CheckoutURL creates a subscription-mode Checkout Session for the account and
// returns its URL. The plan is resolved to a price through the configured price table.
// The first checkout creates the Stripe customer and stores the customer mapping,
// which is how later events find their way back to the account.
func (p *Provider) CheckoutURL(ctx context.Context, accountID, email, plan, successURL, cancelURL string) (string, error) {
	const endpoint = "/v1/checkout/sessions"
	startTime := time.Now()

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", fmt.Errorf("%w: account id is required", billing.ErrInvalidSubscription)
	}

	priceID, ok := p.PriceForPlan(plan)
	if !ok {
		p.metrics.RecordAPICall(providerName, endpoint, "plan_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, plan)
	}

	customerID, err := p.ensureCustomer(ctx, accountID, email)
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "customer_resolution_failed")
		return "", err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(accountID),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
	}
	params.AddMetadata(metadataAccountID, accountID)
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataAccountID, accountID)

	session, err := p.api.CreateCheckoutSession(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return "", fmt.Errorf("%w: create checkout session: %w", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, endpoint, "success")

	p.logger.Info("checkout session created",
		billing.F("account_id", accountID), billing.F("customer_id", customerID), billing.F("plan", plan))
	return session.URL, nil
}

// PortalURL creates a Customer Portal session so the account can manage or
// cancel its subscription. The account must have been through checkout.
func (p *Provider) PortalURL(ctx context.Context, accountID, returnURL string) (string, error) {
	const endpoint = "/v1/billing_portal/sessions"
	startTime := time.Now()

	customerID, err := p.customerForAccount(ctx, strings.TrimSpace(accountID))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "customer_not_found")
		return "", err
	}

	session, err := p.api.CreatePortalSession(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return "", fmt.Errorf("%w: create portal session: %w", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, endpoint, "success")
	return session.URL, nil
}

// ensureCustomer returns the account's Stripe customer, creating it and the
// mapping on first use. Lookup failures other than "not found" abort so a
// store outage cannot produce duplicate customers.
func (p *Provider) ensureCustomer(ctx context.Context, accountID, email string) (string, error) {
	customerID, err := p.customerForAccount(ctx, accountID)
	if err == nil {
		return customerID, nil
	}
	if !errors.Is(err, billing.ErrCustomerNotFound) {
		return "", err
	}
	if p.mappings == nil {
		return "", fmt.Errorf("%w: customer mapping store is required for checkout", billing.ErrProviderNotConfigured)
	}

	const endpoint = "/v1/customers"
	start := time.Now()
	customer, err := p.api.CreateCustomer(ctx, accountID, email)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return "", fmt.Errorf("%w: create customer: %w", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, endpoint, "success")

	err = p.mappings.PutCustomerMapping(ctx, &billing.CustomerMapping{
		ProviderCustomerID: customer.ID,
		AccountID:          accountID,
		CreatedAt:          p.now().UTC(),
	})
	if errors.Is(err, billing.ErrMappingConflict) {
		// A concurrent checkout mapped the account first; use its customer.
		winner, lookupErr := p.customerForAccount(ctx, accountID)
		if lookupErr != nil {
			return "", fmt.Errorf("failed to re-read customer mapping for %s: %w", accountID, lookupErr)
		}
		p.logger.Warn("stripe customer left unmapped after concurrent checkout",
			billing.F("account_id", accountID), billing.F("customer_id", customer.ID),
			billing.F("mapped_customer_id", winner))
		return winner, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to store customer mapping for %s: %w", accountID, err)
	}

	p.logger.Info("stripe customer created", billing.F("account_id", accountID), billing.F("customer_id", customer.ID))
	return customer.ID, nil
}
