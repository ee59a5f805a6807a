// Package config loads jobgate's process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/moderation"
)

// ErrInvalidConfig is returned for missing, malformed or placeholder settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the process configuration.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// Storage. DATABASE_URL wins over FIRESTORE_PROJECT_ID; with neither set
	// an in-memory store is used (development only).
	DatabaseURL        string
	FirestoreProjectID string

	// Deferred queue. Without REDIS_ADDR the queue is kept in memory.
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string

	StripeAPIKey        string
	StripeWebhookSecret string
	PriceIDs            map[string]string

	JWTSecret string
	JWTIssuer string

	LogLevel  string
	LogFormat string // "json" or "console"

	MetricsNamespace string

	PublishDelay         time.Duration
	EntitlementCacheTTL  time.Duration
	DeferredPollInterval time.Duration
}

// Load reads .env files (missing files are ignored) and then the environment.
// Variables already set in the environment take precedence over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: load %s: %v", ErrInvalidConfig, f, err)
		}
	}

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		FirestoreProjectID:  os.Getenv("FIRESTORE_PROJECT_ID"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix:      getEnv("REDIS_KEY_PREFIX", "jobgate:"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTIssuer:           getEnv("JWT_ISSUER", "jobgate"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		MetricsNamespace:    getEnv("METRICS_NAMESPACE", "jobgate"),
	}

	var err error
	if cfg.PriceIDs, err = ParsePriceTable(os.Getenv("STRIPE_PRICE_IDS")); err != nil {
		return nil, err
	}
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", 15 * time.Second, &cfg.ShutdownTimeout},
		{"PUBLISH_DELAY", moderation.DefaultPublishDelay, &cfg.PublishDelay},
		{"ENTITLEMENT_CACHE_TTL", 30 * time.Second, &cfg.EntitlementCacheTTL},
		{"DEFERRED_POLL_INTERVAL", 15 * time.Second, &cfg.DeferredPollInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be json or console, got %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.PublishDelay <= 0 {
		return fmt.Errorf("%w: PUBLISH_DELAY must be positive", ErrInvalidConfig)
	}
	if c.DeferredPollInterval <= 0 {
		return fmt.Errorf("%w: DEFERRED_POLL_INTERVAL must be positive", ErrInvalidConfig)
	}
	return nil
}

// ValidateBilling checks the settings needed to talk to Stripe. Placeholder
// secrets are rejected so a half-configured deployment fails at startup.
func (c *Config) ValidateBilling() error {
	if c.StripeAPIKey == "" || billing.IsPlaceholderSecret(c.StripeAPIKey) {
		return fmt.Errorf("%w: STRIPE_API_KEY is missing or a placeholder", ErrInvalidConfig)
	}
	if c.StripeWebhookSecret == "" || billing.IsPlaceholderSecret(c.StripeWebhookSecret) {
		return fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is missing or a placeholder", ErrInvalidConfig)
	}
	return nil
}

// ValidateServe checks everything the HTTP server needs.
func (c *Config) ValidateServe() error {
	if err := c.ValidateBilling(); err != nil {
		return err
	}
	if c.JWTSecret == "" || billing.IsPlaceholderSecret(c.JWTSecret) {
		return fmt.Errorf("%w: JWT_SECRET is missing or a placeholder", ErrInvalidConfig)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: JWT_SECRET must be at least 32 bytes", ErrInvalidConfig)
	}
	return nil
}

// ParsePriceTable parses "plan=price_id,plan2=price_id2".
func ParsePriceTable(raw string) (map[string]string, error) {
	table := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		plan, price, ok := strings.Cut(pair, "=")
		plan, price = strings.TrimSpace(plan), strings.TrimSpace(price)
		if !ok || plan == "" || price == "" {
			return nil, fmt.Errorf("%w: STRIPE_PRICE_IDS entry %q is not plan=price", ErrInvalidConfig, pair)
		}
		table[strings.ToLower(plan)] = price
	}
	return table, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}
