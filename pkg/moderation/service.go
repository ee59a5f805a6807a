package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

// Service approves posts and fixes their publish time once.
type Service struct {
	store  PostStore
	policy *Policy
	logger billing.Logger
	now    func() time.Time
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store  PostStore
	Policy *Policy
	Logger billing.Logger
	Now    func() time.Time
}

// NewService creates a moderation service.
func NewService(config ServiceConfig) (*Service, error) {
	if config.Store == nil || config.Policy == nil {
		return nil, fmt.Errorf("%w: store and policy are required", ErrNotConfigured)
	}
	s := &Service{
		store:  config.Store,
		policy: config.Policy,
		logger: config.Logger,
		now:    config.Now,
	}
	if s.logger == nil {
		s.logger = &billing.NoopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Approve approves a pending post and stores its publish time.
// The publish time is computed from the owner's entitlement at this moment and never
// re-evaluated: approving an approved post returns ErrAlreadyApproved.
func (s *Service) Approve(ctx context.Context, postID string) (*Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status == PostApproved || post.PublishAt != nil {
		return nil, ErrAlreadyApproved
	}
	if post.AccountID == "" {
		return nil, fmt.Errorf("%w: post %s has no owner", ErrInvalidPost, postID)
	}

	approvedAt := s.now().UTC()
	publishAt, err := s.policy.PublishAt(ctx, post.AccountID, approvedAt)
	if err != nil {
		s.logger.Error("publish time unavailable",
			billing.F("post_id", postID), billing.F("account_id", post.AccountID), billing.F("error", err))
		return nil, err
	}

	if err := s.store.ApprovePost(ctx, postID, approvedAt, publishAt); err != nil {
		return nil, err
	}

	post.Status = PostApproved
	post.ApprovedAt = &approvedAt
	post.PublishAt = &publishAt

	s.logger.Info("post approved",
		billing.F("post_id", postID), billing.F("account_id", post.AccountID),
		billing.F("publish_at", publishAt), billing.F("delayed", publishAt.After(approvedAt)))
	return post, nil
}
