// Package moderation computes when approved job posts become public.
// Accounts with paid access publish immediately; everyone else waits a fixed delay.
package moderation

import (
	"context"
	"errors"
	"time"
)

// DefaultPublishDelay is the delay applied to posts from accounts without paid access.
const DefaultPublishDelay = 72 * time.Hour

var (
	// ErrPostNotFound is returned when a post does not exist
	ErrPostNotFound = errors.New("post not found")

	// ErrAlreadyApproved is returned when approving a post that already has a publish time
	ErrAlreadyApproved = errors.New("post already approved")

	// ErrInvalidPost is returned for posts missing an id or owner
	ErrInvalidPost = errors.New("invalid post")

	// ErrNotConfigured is returned when a service is built without its dependencies
	ErrNotConfigured = errors.New("moderation not configured")
)

// PostStatus is the moderation state of a post.
type PostStatus string

const (
	PostPending  PostStatus = "pending"
	PostApproved PostStatus = "approved"
)

// Post is the moderation view of a job post.
type Post struct {
	ID         string
	AccountID  string
	Status     PostStatus
	ApprovedAt *time.Time
	PublishAt  *time.Time
	CreatedAt  time.Time
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.ApprovedAt != nil {
		t := *p.ApprovedAt
		c.ApprovedAt = &t
	}
	if p.PublishAt != nil {
		t := *p.PublishAt
		c.PublishAt = &t
	}
	return &c
}

// PostStore persists the approval fields of posts.
type PostStore interface {
	// GetPost returns the post or ErrPostNotFound
	GetPost(ctx context.Context, id string) (*Post, error)

	// ApprovePost sets status, approved_at and publish_at in one conditional write.
	// Returns ErrAlreadyApproved if the post was approved concurrently and
	// ErrPostNotFound if it does not exist.
	ApprovePost(ctx context.Context, id string, approvedAt, publishAt time.Time) error
}

// Entitlements answers whether an account has paid access.
type Entitlements interface {
	HasPaidAccess(ctx context.Context, accountID string) (bool, error)
}
