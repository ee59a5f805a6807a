// Package firestore provides a Firestore implementation of the subscription,
// customer mapping and job post stores.
// Guarded writes run inside transactions so out-of-order events cannot regress a document.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/moderation"
)

// Storage implements billing.SubscriptionStore, billing.CustomerMappingStore
// and moderation.PostStore using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	subscriptionsCollection string
	customersCollection     string
	postsCollection         string
}

// Config holds Firestore storage configuration
type Config struct {
	// SubscriptionsCollection holds one document per account
	// Default: "billing_subscriptions"
	SubscriptionsCollection string

	// CustomersCollection holds one document per provider customer
	// Default: "billing_customers"
	CustomersCollection string

	// PostsCollection holds job posts
	// Default: "job_posts"
	PostsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "billing_customers"
	}
	if config.PostsCollection == "" {
		config.PostsCollection = "job_posts"
	}

	return &Storage{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
		customersCollection:     config.CustomersCollection,
		postsCollection:         config.PostsCollection,
	}, nil
}

// GetSubscription implements billing.SubscriptionReader
func (s *Storage) GetSubscription(ctx context.Context, accountID string) (*billing.Subscription, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, billing.ErrSubscriptionNotFound
	}
	return subscriptionFromData(accountID, snap.Data()), nil
}

// UpsertSubscription implements billing.SubscriptionStore
func (s *Storage) UpsertSubscription(ctx context.Context, sub *billing.Subscription) (billing.WriteResult, error) {
	if sub == nil || sub.AccountID == "" {
		return "", billing.ErrInvalidSubscription
	}

	doc := s.client.Collection(s.subscriptionsCollection).Doc(sub.AccountID)
	var result billing.WriteResult

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			existing := subscriptionFromData(sub.AccountID, snap.Data())
			if sub.EventAt.Before(existing.EventAt) {
				result = billing.WriteStale
				return nil
			}
			if existing.SameState(sub) {
				result = billing.WriteUnchanged
				return nil
			}
		}

		result = billing.WriteApplied
		return tx.Set(doc, subscriptionData(sub))
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return result, nil
}

// CancelSubscription implements billing.SubscriptionStore
func (s *Storage) CancelSubscription(ctx context.Context, accountID string, eventAt, updatedAt time.Time) (billing.WriteResult, error) {
	doc := s.client.Collection(s.subscriptionsCollection).Doc(accountID)
	var result billing.WriteResult

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if status.Code(err) == codes.NotFound || (err == nil && !snap.Exists()) {
			return billing.ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}

		existing := subscriptionFromData(accountID, snap.Data())
		if eventAt.Before(existing.EventAt) {
			result = billing.WriteStale
			return nil
		}
		if existing.Status == billing.StatusCanceled {
			result = billing.WriteUnchanged
			return nil
		}

		result = billing.WriteApplied
		return tx.Update(doc, []firestore.Update{
			{Path: "status", Value: string(billing.StatusCanceled)},
			{Path: "eventAt", Value: eventAt.UTC()},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		})
	})
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return "", billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return result, nil
}

// AccountIDForCustomer implements billing.CustomerMappingStore
func (s *Storage) AccountIDForCustomer(ctx context.Context, customerID string) (string, error) {
	snap, err := s.client.Collection(s.customersCollection).Doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", billing.ErrMappingNotFound
		}
		return "", fmt.Errorf("failed to get customer mapping: %w", err)
	}
	accountID := getString(snap.Data(), "accountId")
	if accountID == "" {
		return "", billing.ErrMappingNotFound
	}
	return accountID, nil
}

// CustomerIDForAccount implements billing.CustomerMappingStore
func (s *Storage) CustomerIDForAccount(ctx context.Context, accountID string) (string, error) {
	iter := s.client.Collection(s.customersCollection).
		Where("accountId", "==", accountID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", billing.ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query customer mapping: %w", err)
	}
	return snap.Ref.ID, nil
}

// PutCustomerMapping implements billing.CustomerMappingStore
func (s *Storage) PutCustomerMapping(ctx context.Context, mapping *billing.CustomerMapping) error {
	if mapping == nil || mapping.ProviderCustomerID == "" || mapping.AccountID == "" {
		return billing.ErrInvalidMapping
	}
	createdAt := mapping.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	customers := s.client.Collection(s.customersCollection)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(customers.Where("accountId", "==", mapping.AccountID).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 && existing[0].Ref.ID != mapping.ProviderCustomerID {
			return fmt.Errorf("%w: account %s is mapped to %s",
				billing.ErrMappingConflict, mapping.AccountID, existing[0].Ref.ID)
		}
		return tx.Set(customers.Doc(mapping.ProviderCustomerID), map[string]interface{}{
			"accountId": mapping.AccountID,
			"createdAt": createdAt,
		})
	})
	if err != nil {
		if errors.Is(err, billing.ErrMappingConflict) {
			return err
		}
		return fmt.Errorf("failed to put customer mapping: %w", err)
	}
	return nil
}

// CreatePost inserts a pending post.
func (s *Storage) CreatePost(ctx context.Context, post *moderation.Post) error {
	if post == nil || post.ID == "" || post.AccountID == "" {
		return moderation.ErrInvalidPost
	}
	postStatus := post.Status
	if postStatus == "" {
		postStatus = moderation.PostPending
	}
	createdAt := post.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	data := map[string]interface{}{
		"accountId": post.AccountID,
		"status":    string(postStatus),
		"createdAt": createdAt,
	}
	if post.ApprovedAt != nil {
		data["approvedAt"] = *post.ApprovedAt
	}
	if post.PublishAt != nil {
		data["publishAt"] = *post.PublishAt
	}
	if _, err := s.client.Collection(s.postsCollection).Doc(post.ID).Create(ctx, data); err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// GetPost implements moderation.PostStore
func (s *Storage) GetPost(ctx context.Context, id string) (*moderation.Post, error) {
	snap, err := s.client.Collection(s.postsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, moderation.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return postFromData(id, snap.Data()), nil
}

// ApprovePost implements moderation.PostStore
func (s *Storage) ApprovePost(ctx context.Context, id string, approvedAt, publishAt time.Time) error {
	doc := s.client.Collection(s.postsCollection).Doc(id)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if status.Code(err) == codes.NotFound || (err == nil && !snap.Exists()) {
			return moderation.ErrPostNotFound
		}
		if err != nil {
			return err
		}
		if getString(snap.Data(), "status") != string(moderation.PostPending) {
			return moderation.ErrAlreadyApproved
		}
		return tx.Update(doc, []firestore.Update{
			{Path: "status", Value: string(moderation.PostApproved)},
			{Path: "approvedAt", Value: approvedAt.UTC()},
			{Path: "publishAt", Value: publishAt.UTC()},
		})
	})
	if errors.Is(err, moderation.ErrPostNotFound) || errors.Is(err, moderation.ErrAlreadyApproved) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to approve post: %w", err)
	}
	return nil
}

func subscriptionData(sub *billing.Subscription) map[string]interface{} {
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	data := map[string]interface{}{
		"providerSubscriptionId": sub.ProviderSubscriptionID,
		"providerCustomerId":     sub.ProviderCustomerID,
		"status":                 string(sub.Status),
		"eventAt":                sub.EventAt.UTC(),
		"updatedAt":              updatedAt.UTC(),
	}
	if sub.PlanID != nil {
		data["planId"] = *sub.PlanID
	}
	if sub.CurrentPeriodEnd != nil {
		data["currentPeriodEnd"] = sub.CurrentPeriodEnd.UTC()
	}
	return data
}

func subscriptionFromData(accountID string, data map[string]interface{}) *billing.Subscription {
	sub := &billing.Subscription{
		AccountID:              accountID,
		ProviderSubscriptionID: getString(data, "providerSubscriptionId"),
		ProviderCustomerID:     getString(data, "providerCustomerId"),
		Status:                 billing.Status(getString(data, "status")),
		EventAt:                getTime(data, "eventAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
	if plan, ok := data["planId"].(string); ok {
		sub.PlanID = &plan
	}
	if end, ok := data["currentPeriodEnd"].(time.Time); ok && !end.IsZero() {
		end = end.UTC()
		sub.CurrentPeriodEnd = &end
	}
	return sub
}

func postFromData(id string, data map[string]interface{}) *moderation.Post {
	post := &moderation.Post{
		ID:        id,
		AccountID: getString(data, "accountId"),
		Status:    moderation.PostStatus(getString(data, "status")),
		CreatedAt: getTime(data, "createdAt"),
	}
	if t, ok := data["approvedAt"].(time.Time); ok {
		t = t.UTC()
		post.ApprovedAt = &t
	}
	if t, ok := data["publishAt"].(time.Time); ok {
		t = t.UTC()
		post.PublishAt = &t
	}
	return post
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}
