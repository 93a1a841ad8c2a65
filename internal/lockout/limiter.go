// Package lockout tracks consecutive credential failures per principal in
// Redis and converts them into temporary account locks.
//
// The counter is a fixed window: the first failure sets the window TTL, and
// crossing the threshold writes a separate lock key whose TTL is the
// authoritative source of the retry-after duration. A success clears both
// keys, so only consecutive failures count.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Config tunes the failure threshold and lock length.
type Config struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// Limiter enforces per-principal login lockout using Redis counters.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	config Config
}

// New creates a lockout [Limiter] backed by the given Redis client.
func New(rdb redis.UniversalClient, prefix string, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, config: cfg}
}

func (l *Limiter) counterKey(principal string) string {
	return l.prefix + ":lo:c:" + principal
}

func (l *Limiter) lockKey(principal string) string {
	return l.prefix + ":lo:l:" + principal
}

// Check reports whether the principal is currently locked and, if so, how
// long until the lock expires. Checking never mutates state, so probing a
// locked account does not extend the lock.
func (l *Limiter) Check(ctx context.Context, principal string) (locked bool, retryAfter time.Duration, err error) {
	ttl, err := l.rdb.PTTL(ctx, l.lockKey(principal)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		// -2 key missing, -1 no expiry (never written that way)
		return false, 0, nil
	}
	return true, ttl, nil
}

// RecordFailure counts one failed attempt. Crossing the threshold installs
// the lock and reports it together with the full lock duration.
func (l *Limiter) RecordFailure(ctx context.Context, principal string) (locked bool, retryAfter time.Duration, err error) {
	key := l.counterKey(principal)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.config.LockDuration).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count < int64(l.config.MaxAttempts) {
		return false, 0, nil
	}

	if err := l.rdb.Set(ctx, l.lockKey(principal), 1, l.config.LockDuration).Err(); err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return true, l.config.LockDuration, nil
}

// Reset clears the failure counter and any active lock. Called after a
// successful authentication or password change.
func (l *Limiter) Reset(ctx context.Context, principal string) error {
	if err := l.rdb.Del(ctx, l.counterKey(principal), l.lockKey(principal)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FailureCount returns the current consecutive-failure counter. Missing keys
// return zero and do not reveal account existence.
func (l *Limiter) FailureCount(ctx context.Context, principal string) (int, error) {
	count, err := l.rdb.Get(ctx, l.counterKey(principal)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}
