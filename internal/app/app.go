// Package app assembles the jobgate service from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/jobgate/internal/config"
	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/billing/deferred"
	billingzerolog "github.com/mihaimyh/jobgate/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/jobgate/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/jobgate/pkg/billing/stripe"
	"github.com/mihaimyh/jobgate/pkg/entitlement"
	"github.com/mihaimyh/jobgate/pkg/identity"
	"github.com/mihaimyh/jobgate/pkg/moderation"
	firestorestore "github.com/mihaimyh/jobgate/storage/firestore"
	"github.com/mihaimyh/jobgate/storage/memory"
	pgstore "github.com/mihaimyh/jobgate/storage/postgres"
	redisstore "github.com/mihaimyh/jobgate/storage/redis"
)

const (
	breakerFailureThreshold = 5
	breakerResetTimeout     = 30 * time.Second
	entitlementCacheSize    = 10000
)

// Store is everything the service persists outside the deferred queue.
type Store interface {
	billing.SubscriptionStore
	billing.CustomerMappingStore
	moderation.PostStore
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options overrides backends that New would otherwise build from config.
type Options struct {
	Store     Store
	Queue     deferred.Queue
	StripeAPI stripe.API
	Lookup    identity.Lookup
	Registry  *prometheus.Registry
}

// App holds the wired components.
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	lookup   identity.Lookup
	closers  []func()

	Store      Store
	Queue      deferred.Queue
	Provider   *stripe.Provider
	Gate       *entitlement.Gate
	Moderation *moderation.Service
	Worker     *deferred.Worker
}

// New connects the configured backends and wires the billing, entitlement and
// moderation components on top of them.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.registry = opts.Registry
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := prommetrics.NewMetrics(a.registry, cfg.MetricsNamespace)
	logger := billingzerolog.NewLogger(log)

	a.Store = opts.Store
	if a.Store == nil {
		store, closeStore, err := OpenStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.Store = store
		a.closers = append(a.closers, closeStore)
	}
	a.Queue = opts.Queue
	if a.Queue == nil {
		queue, closeQueue, err := OpenQueue(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.Queue = queue
		a.closers = append(a.closers, closeQueue)
	}

	var err error
	a.Gate, err = entitlement.NewGate(entitlement.Config{
		Store:    a.Store,
		CacheTTL: cfg.EntitlementCacheTTL,
		Cache:    entitlement.NewTTLCache(entitlementCacheSize),
		CircuitBreaker: entitlement.NewBreaker(breakerFailureThreshold, breakerResetTimeout, func(state entitlement.BreakerState) {
			log.Warn().Str("state", string(state)).Msg("entitlement circuit breaker changed state")
		}),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	scheduler, err := deferred.NewScheduler(deferred.SchedulerConfig{
		Queue:   a.Queue,
		Policy:  deferred.DefaultRetryPolicy(),
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	a.Provider, err = stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Subscriptions: a.Store,
			Mappings:      a.Store,
			WebhookSecret: cfg.StripeWebhookSecret,
			APIKey:        cfg.StripeAPIKey,
			PriceTable:    cfg.PriceIDs,
			Deferrer:      scheduler,
			OnReconciled:  a.Gate.OnReconciled,
			Metrics:       metrics,
			Logger:        logger,
		},
		API: opts.StripeAPI,
	})
	if err != nil {
		return nil, err
	}

	a.Worker, err = deferred.NewWorker(deferred.WorkerConfig{
		Queue:        a.Queue,
		Replayer:     a.Provider,
		Policy:       deferred.DefaultRetryPolicy(),
		PollInterval: cfg.DeferredPollInterval,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	a.Moderation, err = moderation.NewService(moderation.ServiceConfig{
		Store:  a.Store,
		Policy: moderation.NewPolicy(a.Gate, cfg.PublishDelay),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	a.lookup = opts.Lookup
	ok = true
	return a, nil
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Ping checks the store and the queue when they support it.
func (a *App) Ping(ctx context.Context) error {
	for _, backend := range []any{a.Store, a.Queue} {
		if p, ok := backend.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// OpenStore picks Postgres when DATABASE_URL is set, Firestore when
// FIRESTORE_PROJECT_ID is set, and an in-memory store otherwise.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		pgCfg := pgstore.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		store, err := pgstore.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		log.Info().Msg("using postgres storage")
		return store, store.Close, nil

	case cfg.FirestoreProjectID != "":
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info().Str("project", cfg.FirestoreProjectID).Msg("using firestore storage")
		return store, func() { _ = client.Close() }, nil

	default:
		log.Warn().Msg("no DATABASE_URL or FIRESTORE_PROJECT_ID set; using in-memory storage")
		return memory.New(), func() {}, nil
	}
}

// OpenQueue picks Redis when REDIS_ADDR is set and an in-memory queue otherwise.
func OpenQueue(ctx context.Context, cfg *config.Config, log zerolog.Logger) (deferred.Queue, func(), error) {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("no REDIS_ADDR set; deferred events are kept in memory")
		return memory.New(), func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	queue, err := redisstore.New(client, redisstore.Config{KeyPrefix: cfg.RedisKeyPrefix})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if err := queue.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis deferred queue")
	return queue, func() { _ = queue.Close() }, nil
}
