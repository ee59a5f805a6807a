package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is missing its webhook secret or API key,
	// or when either is still a placeholder value
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrAccountUnresolved is returned when an event cannot be linked to an internal account.
	// Retrying delivery does not fix it, so the webhook acknowledges the event.
	ErrAccountUnresolved = errors.New("account could not be resolved")

	// ErrSubscriptionNotFound is returned when an account has no subscription record
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrMappingNotFound is returned when a provider customer has no account mapping
	ErrMappingNotFound = errors.New("customer mapping not found")

	// ErrCustomerNotFound is returned when an account has no billing customer yet
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrNoSubscription is returned by sync when the provider holds no subscription for the customer
	ErrNoSubscription = errors.New("no subscription in billing provider")

	// ErrPlanNotConfigured is returned when a plan has no configured price
	ErrPlanNotConfigured = errors.New("plan not configured in price table")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrInvalidSubscription is returned when a store is asked to write an incomplete record
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrInvalidMapping is returned when a customer mapping is missing either id
	ErrInvalidMapping = errors.New("invalid customer mapping")

	// ErrMappingConflict is returned when the account is already mapped to a different customer
	ErrMappingConflict = errors.New("account already mapped to another customer")
)
