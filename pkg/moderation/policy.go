package moderation

import (
	"context"
	"fmt"
	"time"
)

// Policy computes publish times.
type Policy struct {
	entitlements Entitlements
	delay        time.Duration
}

// NewPolicy creates a policy. A non-positive delay falls back to DefaultPublishDelay.
func NewPolicy(entitlements Entitlements, delay time.Duration) *Policy {
	if delay <= 0 {
		delay = DefaultPublishDelay
	}
	return &Policy{entitlements: entitlements, delay: delay}
}

// Delay returns the delay applied to accounts without paid access.
func (p *Policy) Delay() time.Duration {
	return p.delay
}

// PublishAt returns approvedAt for entitled accounts and approvedAt plus the delay
// otherwise. Entitlement lookup errors are returned, never treated as "not entitled".
func (p *Policy) PublishAt(ctx context.Context, accountID string, approvedAt time.Time) (time.Time, error) {
	entitled, err := p.entitlements.HasPaidAccess(ctx, accountID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to check entitlement for %s: %w", accountID, err)
	}
	if entitled {
		return approvedAt, nil
	}
	return approvedAt.Add(p.delay), nil
}
