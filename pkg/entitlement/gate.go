// Package entitlement answers whether an account currently has paid access.
// It only reads the subscription table written by the billing reconciler.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

var (
	// ErrCircuitOpen is returned when the subscription store is failing and reads are short-circuited
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrGateUnavailable wraps store failures. It is never treated as "not entitled".
	ErrGateUnavailable = errors.New("entitlement gate unavailable")

	// ErrInvalidAccount is returned for empty account ids
	ErrInvalidAccount = errors.New("invalid account id")
)

// Entitlement is the gate's answer for one account.
type Entitlement struct {
	AccountID        string         `json:"account_id"`
	Entitled         bool           `json:"entitled"`
	Status           billing.Status `json:"status,omitempty"`
	PlanID           *string        `json:"plan_id,omitempty"`
	CurrentPeriodEnd *time.Time     `json:"current_period_end,omitempty"`
}

func (e Entitlement) clone() Entitlement {
	if e.PlanID != nil {
		p := *e.PlanID
		e.PlanID = &p
	}
	if e.CurrentPeriodEnd != nil {
		t := *e.CurrentPeriodEnd
		e.CurrentPeriodEnd = &t
	}
	return e
}

// IsEntitledStatus reports whether a subscription status grants paid access.
// Only active and trialing do.
func IsEntitledStatus(status billing.Status) bool {
	return status == billing.StatusActive || status == billing.StatusTrialing
}

// Config configures a Gate.
type Config struct {
	// Store is the subscription table (required)
	Store billing.SubscriptionReader

	// CacheTTL enables caching when positive
	CacheTTL time.Duration

	// Cache overrides the default TTLCache when CacheTTL is positive
	Cache Cache

	// CircuitBreaker guards store reads. Nil disables it.
	CircuitBreaker CircuitBreaker

	Logger billing.Logger
}

// Gate is the read-only entitlement check consulted by paid features.
// The cache is per process: Invalidate only clears this gate, so other replicas
// keep serving their cached answer until its TTL runs out.
type Gate struct {
	store   billing.SubscriptionReader
	cache   Cache
	ttl     time.Duration
	breaker CircuitBreaker
	logger  billing.Logger

	// generation is bumped by every Invalidate. A read only fills the cache when
	// no invalidation happened while it was in flight.
	mu         sync.Mutex
	generation uint64
}

// NewGate creates a gate.
func NewGate(config Config) (*Gate, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: subscription store is required", ErrGateUnavailable)
	}
	g := &Gate{
		store:   config.Store,
		cache:   NoopCache{},
		ttl:     config.CacheTTL,
		breaker: config.CircuitBreaker,
		logger:  config.Logger,
	}
	if g.ttl > 0 {
		g.cache = config.Cache
		if g.cache == nil {
			g.cache = NewTTLCache(0)
		}
	}
	if g.breaker == nil {
		g.breaker = noopBreaker{}
	}
	if g.logger == nil {
		g.logger = &billing.NoopLogger{}
	}
	return g, nil
}

// Check returns the account's entitlement. An account with no subscription record
// is on the free tier and not entitled. Store failures are returned as errors.
func (g *Gate) Check(ctx context.Context, accountID string) (Entitlement, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Entitlement{}, ErrInvalidAccount
	}
	if ent, ok := g.cache.Get(accountID); ok {
		return ent, nil
	}
	gen := g.currentGeneration()

	var sub *billing.Subscription
	err := g.breaker.Execute(ctx, func() error {
		var err error
		sub, err = g.store.GetSubscription(ctx, accountID)
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			sub = nil
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return Entitlement{}, err
		}
		g.logger.Error("entitlement lookup failed", billing.F("account_id", accountID), billing.F("error", err))
		return Entitlement{}, fmt.Errorf("%w: %w", ErrGateUnavailable, err)
	}

	ent := Entitlement{AccountID: accountID}
	if sub != nil {
		ent.Entitled = IsEntitledStatus(sub.Status)
		ent.Status = sub.Status
		ent.PlanID = sub.PlanID
		ent.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	if g.ttl > 0 {
		g.fill(accountID, ent, gen)
	}
	return ent, nil
}

func (g *Gate) currentGeneration() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// fill caches ent unless an invalidation ran after the read started.
func (g *Gate) fill(accountID string, ent Entitlement, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != gen {
		return
	}
	g.cache.Set(accountID, ent, g.ttl)
}

// HasPaidAccess reports whether the account's subscription status is active or trialing.
func (g *Gate) HasPaidAccess(ctx context.Context, accountID string) (bool, error) {
	ent, err := g.Check(ctx, accountID)
	if err != nil {
		return false, err
	}
	return ent.Entitled, nil
}

// Invalidate drops any cached answer for the account.
func (g *Gate) Invalidate(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	g.cache.Invalidate(accountID)
}

// OnReconciled invalidates the cache entry for a reconciled account.
// It matches billing.Config.OnReconciled.
func (g *Gate) OnReconciled(_ context.Context, event billing.ReconciledEvent) {
	g.Invalidate(event.AccountID)
}
