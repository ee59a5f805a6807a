package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mihaimyh/jobgate/pkg/moderation"
)

// CreatePost inserts a pending post.
func (s *Storage) CreatePost(ctx context.Context, post *moderation.Post) error {
	if post == nil || post.ID == "" || post.AccountID == "" {
		return moderation.ErrInvalidPost
	}
	status := post.Status
	if status == "" {
		status = moderation.PostPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_posts (id, account_id, status, approved_at, publish_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		post.ID, post.AccountID, string(status), post.ApprovedAt, post.PublishAt, updatedAt(post.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// GetPost implements moderation.PostStore
func (s *Storage) GetPost(ctx context.Context, id string) (*moderation.Post, error) {
	var post moderation.Post
	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, status, approved_at, publish_at, created_at
			FROM job_posts WHERE id = $1`, id).Scan(
		&post.ID,
		&post.AccountID,
		&post.Status,
		&post.ApprovedAt,
		&post.PublishAt,
		&post.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, moderation.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

// ApprovePost implements moderation.PostStore
func (s *Storage) ApprovePost(ctx context.Context, id string, approvedAt, publishAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_posts SET status = $2, approved_at = $3, publish_at = $4
			WHERE id = $1 AND status = $5`,
		id, string(moderation.PostApproved), approvedAt.UTC(), publishAt.UTC(), string(moderation.PostPending),
	)
	if err != nil {
		return fmt.Errorf("failed to approve post: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_posts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check post: %w", err)
	}
	if !exists {
		return moderation.ErrPostNotFound
	}
	return moderation.ErrAlreadyApproved
}
