// Package memory provides in-memory implementations of the billing, moderation and
// deferred queue stores. It is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/billing/deferred"
	"github.com/mihaimyh/jobgate/pkg/moderation"
)

// Storage implements billing.SubscriptionStore, billing.CustomerMappingStore,
// moderation.PostStore and deferred.Queue using in-memory maps
type Storage struct {
	mu            sync.RWMutex
	subscriptions map[string]*billing.Subscription
	customers     map[string]*billing.CustomerMapping // provider customer id -> mapping
	accounts      map[string]string                   // account id -> provider customer id
	posts         map[string]*moderation.Post
	deferred      map[string]*deferredEntry
	deadLetters   []*deferred.Entry
}

type deferredEntry struct {
	entry        *deferred.Entry
	visibleAfter time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		subscriptions: make(map[string]*billing.Subscription),
		customers:     make(map[string]*billing.CustomerMapping),
		accounts:      make(map[string]string),
		posts:         make(map[string]*moderation.Post),
		deferred:      make(map[string]*deferredEntry),
	}
}

// GetSubscription implements billing.SubscriptionReader
func (s *Storage) GetSubscription(_ context.Context, accountID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[accountID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// UpsertSubscription implements billing.SubscriptionStore
func (s *Storage) UpsertSubscription(_ context.Context, sub *billing.Subscription) (billing.WriteResult, error) {
	if sub == nil || sub.AccountID == "" {
		return "", billing.ErrInvalidSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subscriptions[sub.AccountID]; ok {
		if sub.EventAt.Before(existing.EventAt) {
			return billing.WriteStale, nil
		}
		if existing.SameState(sub) {
			return billing.WriteUnchanged, nil
		}
	}

	// Store a copy to prevent external mutations
	s.subscriptions[sub.AccountID] = copySubscription(sub)
	return billing.WriteApplied, nil
}

// CancelSubscription implements billing.SubscriptionStore
func (s *Storage) CancelSubscription(_ context.Context, accountID string, eventAt, updatedAt time.Time) (billing.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[accountID]
	if !ok {
		return "", billing.ErrSubscriptionNotFound
	}
	if eventAt.Before(existing.EventAt) {
		return billing.WriteStale, nil
	}
	if existing.Status == billing.StatusCanceled {
		return billing.WriteUnchanged, nil
	}

	existing.Status = billing.StatusCanceled
	existing.EventAt = eventAt
	existing.UpdatedAt = updatedAt
	return billing.WriteApplied, nil
}

// AccountIDForCustomer implements billing.CustomerMappingStore
func (s *Storage) AccountIDForCustomer(_ context.Context, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.customers[customerID]
	if !ok {
		return "", billing.ErrMappingNotFound
	}
	return m.AccountID, nil
}

// CustomerIDForAccount implements billing.CustomerMappingStore
func (s *Storage) CustomerIDForAccount(_ context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customerID, ok := s.accounts[accountID]
	if !ok {
		return "", billing.ErrMappingNotFound
	}
	return customerID, nil
}

// PutCustomerMapping implements billing.CustomerMappingStore
func (s *Storage) PutCustomerMapping(_ context.Context, mapping *billing.CustomerMapping) error {
	if mapping == nil || mapping.ProviderCustomerID == "" || mapping.AccountID == "" {
		return billing.ErrInvalidMapping
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[mapping.AccountID]; ok && existing != mapping.ProviderCustomerID {
		return fmt.Errorf("%w: account %s is mapped to %s", billing.ErrMappingConflict, mapping.AccountID, existing)
	}

	m := *mapping
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.customers[m.ProviderCustomerID] = &m
	s.accounts[m.AccountID] = m.ProviderCustomerID
	return nil
}

// CreatePost stores a pending post. Post CRUD lives outside this module; tests and
// development servers use this to seed data.
func (s *Storage) CreatePost(_ context.Context, post *moderation.Post) error {
	if post == nil || post.ID == "" || post.AccountID == "" {
		return moderation.ErrInvalidPost
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := post.Clone()
	if p.Status == "" {
		p.Status = moderation.PostPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.posts[p.ID] = p
	return nil
}

// GetPost implements moderation.PostStore
func (s *Storage) GetPost(_ context.Context, id string) (*moderation.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, moderation.ErrPostNotFound
	}
	return p.Clone(), nil
}

// ApprovePost implements moderation.PostStore
func (s *Storage) ApprovePost(_ context.Context, id string, approvedAt, publishAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return moderation.ErrPostNotFound
	}
	if p.Status == moderation.PostApproved || p.PublishAt != nil {
		return moderation.ErrAlreadyApproved
	}
	p.Status = moderation.PostApproved
	p.ApprovedAt = &approvedAt
	p.PublishAt = &publishAt
	return nil
}

// Enqueue implements deferred.Queue
func (s *Storage) Enqueue(_ context.Context, entry *deferred.Entry) error {
	if entry == nil || entry.ID == "" {
		return deferred.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deferred[entry.ID] = &deferredEntry{entry: entry.Clone(), visibleAfter: entry.NextAttemptAt}
	return nil
}

// ClaimDue implements deferred.Queue
func (s *Storage) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*deferred.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*deferredEntry, 0)
	for _, d := range s.deferred {
		if !d.visibleAfter.After(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].visibleAfter.Equal(due[j].visibleAfter) {
			return due[i].entry.ID < due[j].entry.ID
		}
		return due[i].visibleAfter.Before(due[j].visibleAfter)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*deferred.Entry, 0, len(due))
	for _, d := range due {
		d.visibleAfter = now.Add(lease)
		claimed = append(claimed, d.entry.Clone())
	}
	return claimed, nil
}

// Ack implements deferred.Queue
func (s *Storage) Ack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deferred, id)
	return nil
}

// DeadLetter implements deferred.Queue
func (s *Storage) DeadLetter(_ context.Context, entry *deferred.Entry) error {
	if entry == nil || entry.ID == "" {
		return deferred.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.deferred, entry.ID)
	s.deadLetters = append(s.deadLetters, entry.Clone())
	return nil
}

// DeadLetters implements deferred.Queue
func (s *Storage) DeadLetters(_ context.Context, limit int) ([]*deferred.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.deadLetters)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]*deferred.Entry, 0, n)
	for _, e := range s.deadLetters[:n] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// PendingDeferred returns the number of entries still scheduled.
func (s *Storage) PendingDeferred() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deferred)
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = make(map[string]*billing.Subscription)
	s.customers = make(map[string]*billing.CustomerMapping)
	s.accounts = make(map[string]string)
	s.posts = make(map[string]*moderation.Post)
	s.deferred = make(map[string]*deferredEntry)
	s.deadLetters = nil
}

func copySubscription(sub *billing.Subscription) *billing.Subscription {
	c := *sub
	if sub.PlanID != nil {
		p := *sub.PlanID
		c.PlanID = &p
	}
	if sub.CurrentPeriodEnd != nil {
		t := *sub.CurrentPeriodEnd
		c.CurrentPeriodEnd = &t
	}
	return &c
}
