// Package deferred parks verified billing events whose account cannot be resolved
// yet and replays them with exponential backoff until they resolve or are
// dead-lettered.
package deferred

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidEntry is returned when a queue is asked to store an entry without an id.
var ErrInvalidEntry = errors.New("invalid deferred entry")

// Entry is one parked event.
type Entry struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Payload       []byte    `json:"payload"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

// Queue stores parked events ordered by NextAttemptAt.
type Queue interface {
	// Enqueue inserts the entry, replacing any entry with the same ID.
	Enqueue(ctx context.Context, entry *Entry) error

	// ClaimDue returns up to limit entries whose NextAttemptAt is not after now.
	// Claimed entries are hidden from other claimers until now+lease; the claimer
	// must Ack, re-Enqueue or DeadLetter them before the lease runs out.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Entry, error)

	// Ack removes a processed entry. Acking an unknown ID is a no-op.
	Ack(ctx context.Context, id string) error

	// DeadLetter removes the entry from the schedule and keeps it for inspection.
	DeadLetter(ctx context.Context, entry *Entry) error

	// DeadLetters returns up to limit dead-lettered entries, oldest first.
	DeadLetters(ctx context.Context, limit int) ([]*Entry, error)
}
