package deferred

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

// Scheduler implements billing.Deferrer on top of a Queue.
type Scheduler struct {
	queue   Queue
	policy  RetryPolicy
	metrics billing.Metrics
	logger  billing.Logger
	now     func() time.Time
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Queue   Queue
	Policy  RetryPolicy
	Metrics billing.Metrics
	Logger  billing.Logger
	Now     func() time.Time
}

// NewScheduler creates a scheduler. Queue is required.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	if config.Queue == nil {
		return nil, fmt.Errorf("%w: queue is required", ErrInvalidEntry)
	}
	s := &Scheduler{
		queue:   config.Queue,
		policy:  config.Policy.withDefaults(),
		metrics: config.Metrics,
		logger:  config.Logger,
		now:     config.Now,
	}
	if s.metrics == nil {
		s.metrics = &billing.NoopMetrics{}
	}
	if s.logger == nil {
		s.logger = &billing.NoopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Defer parks the event for its first replay.
func (s *Scheduler) Defer(ctx context.Context, event billing.DeferredEvent) error {
	now := s.now().UTC()
	entry := &Entry{
		ID:            ulid.Make().String(),
		EventID:       event.EventID,
		EventType:     event.EventType,
		Payload:       append([]byte(nil), event.Payload...),
		NextAttemptAt: now.Add(s.policy.NextDelay(1)),
		LastError:     event.Reason,
		CreatedAt:     now,
	}
	if err := s.queue.Enqueue(ctx, entry); err != nil {
		return fmt.Errorf("failed to defer event %s: %w", event.EventID, err)
	}

	s.metrics.RecordDeferredEvent("enqueued")
	s.logger.Info("event deferred",
		billing.F("event_id", event.EventID), billing.F("event_type", event.EventType),
		billing.F("entry_id", entry.ID), billing.F("next_attempt_at", entry.NextAttemptAt))
	return nil
}
