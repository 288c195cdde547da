// Package redisx adapts the coordination store: leased locks for scheduler
// claims and TTL counters for rate limiting.
package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout. Locks are single-owner per key for the duration of their lease;
// counters expire passively.
const (
	lockKeyPrefix        = "scheduler:lock:"
	webhookRateKeyPrefix = "rl:webhook:"
	urlRateKeyPrefix     = "rl:url:"
)

// LockKey returns the scheduler claim key for a job.
func LockKey(jobID string) string { return lockKeyPrefix + jobID }

// WebhookRateKey returns the daily quota counter key for a webhook.
func WebhookRateKey(webhookID string) string { return webhookRateKeyPrefix + webhookID }

// URLRateKey returns the daily quota counter key for a URL receiver.
func URLRateKey(urlID string) string { return urlRateKeyPrefix + urlID }

// Store wraps a redis client with the small primitive set the scheduler and
// rate limiter need: SET NX EX, INCR, EXPIRE, GET, DEL.
type Store struct {
	client *redis.Client
}

// New connects to the coordination store at the given URL
// (redis://host:port/db) and verifies the connection.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// AcquireLock attempts SET key value EX ttl NX. It returns false when another
// holder owns the key.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock key. Releasing a key that already expired is
// not an error.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Incr atomically increments the counter at key, creating it at 1.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return n, nil
}

// Expire sets the TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set TTL on %s: %w", key, err)
	}
	return nil
}

// GetInt reads an integer counter. A missing key reads as zero.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return n, nil
}

// Client exposes the underlying redis client for components layered on the
// same connection, such as the task broker.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
