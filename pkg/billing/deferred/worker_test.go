package deferred_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/billing/deferred"
	"github.com/mihaimyh/jobgate/storage/memory"
)

type scriptedReplayer struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (r *scriptedReplayer) Replay(context.Context, []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.results) == 0 {
		return nil
	}
	err := r.results[0]
	r.results = r.results[1:]
	return err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T, replayer deferred.Replayer, maxAttempts int) (*deferred.Scheduler, *deferred.Worker, *memory.Storage, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	queue := memory.New()
	policy := deferred.RetryPolicy{
		InitialDelay: time.Minute,
		MaxDelay:     time.Hour,
		Multiplier:   2,
		Jitter:       0.01,
		MaxAttempts:  maxAttempts,
	}

	scheduler, err := deferred.NewScheduler(deferred.SchedulerConfig{Queue: queue, Policy: policy, Now: clock.Now})
	require.NoError(t, err)
	worker, err := deferred.NewWorker(deferred.WorkerConfig{
		Queue:    queue,
		Replayer: replayer,
		Policy:   policy,
		Now:      clock.Now,
	})
	require.NoError(t, err)
	return scheduler, worker, queue, clock
}

func deferEvent(t *testing.T, s *deferred.Scheduler) {
	t.Helper()
	require.NoError(t, s.Defer(context.Background(), billing.DeferredEvent{
		EventID:   "evt_1",
		EventType: "customer.subscription.updated",
		Payload:   []byte(`{"id":"evt_1"}`),
		Reason:    "account could not be resolved",
	}))
}

func TestWorker_NotDueYet(t *testing.T) {
	replayer := &scriptedReplayer{}
	scheduler, worker, queue, _ := setup(t, replayer, 3)
	deferEvent(t, scheduler)

	n, err := worker.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, replayer.calls)
	assert.Equal(t, 1, queue.PendingDeferred())
}

func TestWorker_ReplaySucceedsAfterRetry(t *testing.T) {
	replayer := &scriptedReplayer{results: []error{billing.ErrAccountUnresolved, nil}}
	scheduler, worker, queue, clock := setup(t, replayer, 5)
	deferEvent(t, scheduler)

	clock.Advance(2 * time.Minute)
	n, err := worker.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, queue.PendingDeferred(), "failed replay is rescheduled")

	// second delay is about 2 minutes
	clock.Advance(time.Minute)
	n, err = worker.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "rescheduled entry is not due yet")

	clock.Advance(2 * time.Minute)
	n, err = worker.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, queue.PendingDeferred())
	assert.Equal(t, 2, replayer.calls)
}

func TestWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	failure := errors.New("still unresolved")
	replayer := &scriptedReplayer{results: []error{failure, failure, failure}}
	scheduler, worker, queue, clock := setup(t, replayer, 2)
	deferEvent(t, scheduler)

	for i := 0; i < 2; i++ {
		clock.Advance(2 * time.Hour)
		_, err := worker.ProcessDue(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 0, queue.PendingDeferred())
	dead, err := queue.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "evt_1", dead[0].EventID)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Equal(t, "still unresolved", dead[0].LastError)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	replayer := &scriptedReplayer{}
	_, worker, _, _ := setup(t, replayer, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestNewWorker_RequiresQueueAndReplayer(t *testing.T) {
	_, err := deferred.NewWorker(deferred.WorkerConfig{})
	assert.ErrorIs(t, err, deferred.ErrInvalidEntry)

	_, err = deferred.NewScheduler(deferred.SchedulerConfig{})
	assert.ErrorIs(t, err, deferred.ErrInvalidEntry)
}
