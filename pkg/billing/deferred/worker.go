package deferred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

const (
	defaultPollInterval = 15 * time.Second
	defaultBatchSize    = 50
	defaultLease        = 2 * time.Minute
)

// Replayer re-processes a verified payload.
type Replayer interface {
	Replay(ctx context.Context, payload []byte) error
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Queue    Queue
	Replayer Replayer
	Policy   RetryPolicy

	// PollInterval is how often due entries are claimed. Defaults to 15s.
	PollInterval time.Duration

	// BatchSize caps the entries claimed per poll. Defaults to 50.
	BatchSize int

	// Lease is how long a claimed entry stays hidden. Defaults to 2m.
	Lease time.Duration

	Metrics billing.Metrics
	Logger  billing.Logger
	Now     func() time.Time
}

// Worker replays due entries until they succeed or exhaust the retry policy.
type Worker struct {
	queue    Queue
	replayer Replayer
	policy   RetryPolicy
	interval time.Duration
	batch    int
	lease    time.Duration
	metrics  billing.Metrics
	logger   billing.Logger
	now      func() time.Time
}

// NewWorker creates a worker. Queue and Replayer are required.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Queue == nil || config.Replayer == nil {
		return nil, fmt.Errorf("%w: queue and replayer are required", ErrInvalidEntry)
	}
	w := &Worker{
		queue:    config.Queue,
		replayer: config.Replayer,
		policy:   config.Policy.withDefaults(),
		interval: config.PollInterval,
		batch:    config.BatchSize,
		lease:    config.Lease,
		metrics:  config.Metrics,
		logger:   config.Logger,
		now:      config.Now,
	}
	if w.interval <= 0 {
		w.interval = defaultPollInterval
	}
	if w.batch <= 0 {
		w.batch = defaultBatchSize
	}
	if w.lease <= 0 {
		w.lease = defaultLease
	}
	if w.metrics == nil {
		w.metrics = &billing.NoopMetrics{}
	}
	if w.logger == nil {
		w.logger = &billing.NoopLogger{}
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// Run polls the queue until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("deferred worker started", billing.F("poll_interval", w.interval.String()))
	for {
		if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("deferred poll failed", billing.F("error", err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("deferred worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessDue claims one batch of due entries and replays them.
// It returns the number of entries that replayed successfully.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	entries, err := w.queue.ClaimDue(ctx, w.now().UTC(), w.lease, w.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to claim deferred entries: %w", err)
	}

	replayed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		ok, err := w.process(ctx, entry)
		if err != nil {
			return replayed, err
		}
		if ok {
			replayed++
		}
	}
	return replayed, nil
}

func (w *Worker) process(ctx context.Context, entry *Entry) (bool, error) {
	replayErr := w.replayer.Replay(ctx, entry.Payload)
	if replayErr == nil {
		if err := w.queue.Ack(ctx, entry.ID); err != nil {
			return false, fmt.Errorf("failed to ack entry %s: %w", entry.ID, err)
		}
		w.metrics.RecordDeferredEvent("replayed")
		w.logger.Info("deferred event replayed",
			billing.F("entry_id", entry.ID), billing.F("event_id", entry.EventID),
			billing.F("attempts", entry.Attempts+1))
		return true, nil
	}

	entry.Attempts++
	entry.LastError = replayErr.Error()

	if w.policy.Exhausted(entry.Attempts) {
		if err := w.queue.DeadLetter(ctx, entry); err != nil {
			return false, fmt.Errorf("failed to dead-letter entry %s: %w", entry.ID, err)
		}
		w.metrics.RecordDeferredEvent("dead_lettered")
		w.logger.Warn("deferred event dead-lettered",
			billing.F("entry_id", entry.ID), billing.F("event_id", entry.EventID),
			billing.F("attempts", entry.Attempts), billing.F("error", replayErr))
		return false, nil
	}

	entry.NextAttemptAt = w.now().UTC().Add(w.policy.NextDelay(entry.Attempts + 1))
	if err := w.queue.Enqueue(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to reschedule entry %s: %w", entry.ID, err)
	}
	w.metrics.RecordDeferredEvent("rescheduled")

	level := w.logger.Warn
	if errors.Is(replayErr, billing.ErrAccountUnresolved) {
		level = w.logger.Info
	}
	level("deferred event rescheduled",
		billing.F("entry_id", entry.ID), billing.F("event_id", entry.EventID),
		billing.F("attempts", entry.Attempts), billing.F("next_attempt_at", entry.NextAttemptAt),
		billing.F("error", replayErr))
	return false, nil
}
