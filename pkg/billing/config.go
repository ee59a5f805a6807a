package billing

import (
	"context"
	"net/http"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Subscriptions is the canonical subscription table. The provider writes it
	// only through a Reconciler.
	Subscriptions SubscriptionStore

	// Mappings resolves provider customers to internal accounts
	Mappings CustomerMappingStore

	// WebhookSecret is used to verify incoming webhook requests.
	// Empty or placeholder values make the webhook endpoint fail closed.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider (fetch, sync, checkout).
	APIKey string

	// PriceTable maps plan names to provider price ids, e.g. {"featured": "price_123"}.
	// Only checkout reads it.
	PriceTable map[string]string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Deferrer parks events whose account cannot be resolved yet.
	// If nil, unresolved events are logged and acknowledged.
	Deferrer Deferrer

	// OnReconciled is an optional callback invoked after each successful write.
	// It runs synchronously; keep it fast.
	OnReconciled func(ctx context.Context, event ReconciledEvent)

	// Metrics is an optional metrics collector.
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// Logger is an optional structured logger. Defaults to NoopLogger.
	Logger Logger
}

// Validate checks the parts of the config every provider needs.
func (c *Config) Validate() error {
	if c.Subscriptions == nil {
		return ErrProviderNotConfigured
	}
	if IsPlaceholderSecret(c.APIKey) {
		return ErrProviderNotConfigured
	}
	return nil
}
