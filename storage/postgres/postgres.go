// Package postgres provides a PostgreSQL implementation of the subscription,
// customer mapping and job post stores.
// Out-of-order protection lives in the upsert's WHERE clause so concurrent
// writers cannot regress a row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

// Storage implements billing.SubscriptionStore, billing.CustomerMappingStore
// and moderation.PostStore using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetSubscription implements billing.SubscriptionReader
func (s *Storage) GetSubscription(ctx context.Context, accountID string) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, provider_subscription_id, provider_customer_id, plan_id, status,
				current_period_end, event_at, updated_at
			FROM subscriptions WHERE account_id = $1`,
		accountID).Scan(
		&sub.AccountID,
		&sub.ProviderSubscriptionID,
		&sub.ProviderCustomerID,
		&sub.PlanID,
		&sub.Status,
		&sub.CurrentPeriodEnd,
		&sub.EventAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.EventAt = sub.EventAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	if sub.CurrentPeriodEnd != nil {
		t := sub.CurrentPeriodEnd.UTC()
		sub.CurrentPeriodEnd = &t
	}
	return &sub, nil
}

// UpsertSubscription implements billing.SubscriptionStore
func (s *Storage) UpsertSubscription(ctx context.Context, sub *billing.Subscription) (billing.WriteResult, error) {
	if sub == nil || sub.AccountID == "" {
		return "", billing.ErrInvalidSubscription
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (account_id, provider_subscription_id, provider_customer_id,
				plan_id, status, current_period_end, event_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (account_id) DO UPDATE SET
				provider_subscription_id = EXCLUDED.provider_subscription_id,
				provider_customer_id = EXCLUDED.provider_customer_id,
				plan_id = EXCLUDED.plan_id,
				status = EXCLUDED.status,
				current_period_end = EXCLUDED.current_period_end,
				event_at = EXCLUDED.event_at,
				updated_at = EXCLUDED.updated_at
			WHERE subscriptions.event_at <= EXCLUDED.event_at
				AND (subscriptions.provider_subscription_id, subscriptions.provider_customer_id,
					subscriptions.plan_id, subscriptions.status, subscriptions.current_period_end,
					subscriptions.event_at)
				IS DISTINCT FROM
					(EXCLUDED.provider_subscription_id, EXCLUDED.provider_customer_id,
					EXCLUDED.plan_id, EXCLUDED.status, EXCLUDED.current_period_end,
					EXCLUDED.event_at)`,
		sub.AccountID, sub.ProviderSubscriptionID, sub.ProviderCustomerID, sub.PlanID,
		string(sub.Status), sub.CurrentPeriodEnd, sub.EventAt.UTC(), updatedAt(sub.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upsert subscription: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return billing.WriteApplied, nil
	}
	return s.classifySkipped(ctx, sub.AccountID, sub.EventAt)
}

// CancelSubscription implements billing.SubscriptionStore
func (s *Storage) CancelSubscription(ctx context.Context, accountID string, eventAt, updatedAt time.Time) (billing.WriteResult, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
			SET status = $2, event_at = $3, updated_at = $4
			WHERE account_id = $1 AND event_at <= $3 AND status <> $2`,
		accountID, string(billing.StatusCanceled), eventAt.UTC(), updatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return billing.WriteApplied, nil
	}
	return s.classifySkipped(ctx, accountID, eventAt)
}

// classifySkipped explains why a guarded write touched no rows.
func (s *Storage) classifySkipped(ctx context.Context, accountID string, eventAt time.Time) (billing.WriteResult, error) {
	var stored time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT event_at FROM subscriptions WHERE account_id = $1`, accountID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read subscription: %w", err)
	}
	if eventAt.Before(stored) {
		return billing.WriteStale, nil
	}
	return billing.WriteUnchanged, nil
}

// AccountIDForCustomer implements billing.CustomerMappingStore
func (s *Storage) AccountIDForCustomer(ctx context.Context, customerID string) (string, error) {
	var accountID string
	err := s.pool.QueryRow(ctx,
		`SELECT account_id FROM customer_mappings WHERE provider_customer_id = $1`,
		customerID).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", billing.ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer mapping: %w", err)
	}
	return accountID, nil
}

// CustomerIDForAccount implements billing.CustomerMappingStore
func (s *Storage) CustomerIDForAccount(ctx context.Context, accountID string) (string, error) {
	var customerID string
	err := s.pool.QueryRow(ctx,
		`SELECT provider_customer_id FROM customer_mappings WHERE account_id = $1`,
		accountID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", billing.ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer mapping: %w", err)
	}
	return customerID, nil
}

// PutCustomerMapping implements billing.CustomerMappingStore
func (s *Storage) PutCustomerMapping(ctx context.Context, mapping *billing.CustomerMapping) error {
	if mapping == nil || mapping.ProviderCustomerID == "" || mapping.AccountID == "" {
		return billing.ErrInvalidMapping
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO customer_mappings (provider_customer_id, account_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (provider_customer_id) DO UPDATE SET account_id = EXCLUDED.account_id`,
		mapping.ProviderCustomerID, mapping.AccountID, updatedAt(mapping.CreatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: account %s", billing.ErrMappingConflict, mapping.AccountID)
		}
		return fmt.Errorf("failed to put customer mapping: %w", err)
	}
	return nil
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
