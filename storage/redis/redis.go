// Package redis provides a Redis implementation of deferred.Queue.
// Scheduling uses a sorted set scored by visibility time; claims run in a Lua
// script so concurrent workers never receive the same entry within a lease.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/jobgate/pkg/billing/deferred"
)

// Storage implements deferred.Queue using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "jobgate:")
	KeyPrefix string

	// DeadLetterTTL expires the dead-letter list (0 = no expiration)
	DeadLetterTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "jobgate:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client or *redis.ClusterClient. A KeyPrefix must not
// contain its own hash tag, since Redis hashes only the first {...} in a key.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "jobgate:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

func (s *Storage) loadScripts() {
	// Claim due entries and push their visibility out by the lease.
	s.scripts["claim"] = redis.NewScript(`
		local scheduleKey = KEYS[1]
		local entriesKey = KEYS[2]
		local now = ARGV[1]
		local leaseUntil = ARGV[2]
		local limit = tonumber(ARGV[3])

		local ids
		if limit > 0 then
			ids = redis.call('ZRANGEBYSCORE', scheduleKey, '-inf', now, 'LIMIT', 0, ARGV[3])
		else
			ids = redis.call('ZRANGEBYSCORE', scheduleKey, '-inf', now)
		end

		local out = {}
		for _, id in ipairs(ids) do
			local data = redis.call('HGET', entriesKey, id)
			if data then
				redis.call('ZADD', scheduleKey, leaseUntil, id)
				table.insert(out, data)
			else
				redis.call('ZREM', scheduleKey, id)
			end
		end
		return out
	`)
}

// Enqueue implements deferred.Queue
func (s *Storage) Enqueue(ctx context.Context, entry *deferred.Entry) error {
	if entry == nil || entry.ID == "" {
		return deferred.ErrInvalidEntry
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal deferred entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.entriesKey(), entry.ID, data)
	pipe.ZAdd(ctx, s.scheduleKey(), redis.Z{Score: score(entry.NextAttemptAt), Member: entry.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue deferred entry: %w", err)
	}
	return nil
}

// ClaimDue implements deferred.Queue
func (s *Storage) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*deferred.Entry, error) {
	res, err := s.scripts["claim"].Run(ctx, s.client,
		[]string{s.scheduleKey(), s.entriesKey()},
		score(now), score(now.Add(lease)), limit,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim deferred entries: %w", err)
	}

	entries := make([]*deferred.Entry, 0, len(res))
	for _, raw := range res {
		var entry deferred.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deferred entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Ack implements deferred.Queue
func (s *Storage) Ack(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.scheduleKey(), id)
	pipe.HDel(ctx, s.entriesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack deferred entry: %w", err)
	}
	return nil
}

// DeadLetter implements deferred.Queue
func (s *Storage) DeadLetter(ctx context.Context, entry *deferred.Entry) error {
	if entry == nil || entry.ID == "" {
		return deferred.ErrInvalidEntry
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal deferred entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.scheduleKey(), entry.ID)
	pipe.HDel(ctx, s.entriesKey(), entry.ID)
	pipe.RPush(ctx, s.deadLetterKey(), data)
	if s.config.DeadLetterTTL > 0 {
		pipe.Expire(ctx, s.deadLetterKey(), s.config.DeadLetterTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter entry: %w", err)
	}
	return nil
}

// DeadLetters implements deferred.Queue
func (s *Storage) DeadLetters(ctx context.Context, limit int) ([]*deferred.Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	res, err := s.client.LRange(ctx, s.deadLetterKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	entries := make([]*deferred.Entry, 0, len(res))
	for _, raw := range res {
		var entry deferred.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Pending returns the number of scheduled entries, including claimed ones.
func (s *Storage) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.scheduleKey()).Result()
}

// The queue keys share the {deferred} hash tag so the claim script's keys land
// in one Cluster slot.
func (s *Storage) scheduleKey() string {
	return s.config.KeyPrefix + "{deferred}:schedule"
}

func (s *Storage) entriesKey() string {
	return s.config.KeyPrefix + "{deferred}:entries"
}

func (s *Storage) deadLetterKey() string {
	return s.config.KeyPrefix + "{deferred}:dead"
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
