package stripe

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/billing/internal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
	metadataAccountID        = "account_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (stores, secrets, hooks)

	// API overrides the stripe-go client, mainly for tests.
	// If nil, one is built from APIKey and HTTPClient.
	API API

	// RateLimitRequests is the per-IP request budget per RateLimitWindow on the
	// webhook endpoint. Defaults to 100 per minute.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Now returns wall-clock time for UpdatedAt and mapping timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	api         API
	verifier    *Verifier
	verifierErr error
	resolver    *billing.Resolver
	reconciler  *billing.Reconciler
	store       billing.SubscriptionReader
	mappings    billing.CustomerMappingStore
	deferrer    billing.Deferrer
	priceTable  map[string]string
	rateLimiter *internal.RateLimiter
	metrics     billing.Metrics
	logger      billing.Logger
	now         func() time.Time
}

// NewProvider creates a new Stripe billing provider.
// A missing or placeholder webhook secret does not fail construction: the
// webhook endpoint rejects every request instead, while sync and checkout keep working.
func NewProvider(config Config) (*Provider, error) {
	if config.Subscriptions == nil {
		return nil, fmt.Errorf("%w: subscription store is required", billing.ErrProviderNotConfigured)
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	api := config.API
	if api == nil {
		apiKey := strings.TrimSpace(config.APIKey)
		if billing.IsPlaceholderSecret(apiKey) {
			return nil, fmt.Errorf("%w: stripe API key is missing or a placeholder", billing.ErrProviderNotConfigured)
		}
		httpClient := config.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: defaultHTTPTimeout}
		}
		api = NewAPI(apiKey, httpClient)
	}

	verifier, verifierErr := NewVerifier(config.WebhookSecret)
	if verifierErr != nil {
		logger.Warn("stripe webhook secret not configured; webhook endpoint will reject all requests")
	}

	reconciler, err := billing.NewReconciler(billing.ReconcilerConfig{
		Store:        config.Subscriptions,
		Provider:     providerName,
		OnReconciled: config.OnReconciled,
		Metrics:      metrics,
		Logger:       logger,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	priceTable := make(map[string]string, len(config.PriceTable))
	for plan, price := range config.PriceTable {
		priceTable[strings.ToLower(strings.TrimSpace(plan))] = strings.TrimSpace(price)
	}

	limit := config.RateLimitRequests
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	return &Provider{
		api:         api,
		verifier:    verifier,
		verifierErr: verifierErr,
		resolver:    billing.NewResolver(config.Mappings, logger),
		reconciler:  reconciler,
		store:       config.Subscriptions,
		mappings:    config.Mappings,
		deferrer:    config.Deferrer,
		priceTable:  priceTable,
		rateLimiter: internal.NewRateLimiter(limit, window),
		metrics:     metrics,
		logger:      logger,
		now:         now,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// PriceForPlan returns the configured price id for a plan name.
func (p *Provider) PriceForPlan(plan string) (string, bool) {
	price, ok := p.priceTable[strings.ToLower(strings.TrimSpace(plan))]
	return price, ok && price != ""
}

var _ billing.Provider = (*Provider)(nil)
