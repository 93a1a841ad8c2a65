// Package revocation keeps a Redis deny-list of revoked token IDs. Each
// entry lives only as long as the token it blocks: the key TTL equals the
// token's remaining lifetime, so the list stays bounded by the number of
// tokens revoked inside one access-token window.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Registry is the jti deny-list.
type Registry struct {
	rdb    redis.UniversalClient
	prefix string

	now func() time.Time
}

// NewRegistry creates a deny-list under the given Redis key prefix.
func NewRegistry(rdb redis.UniversalClient, prefix string) *Registry {
	return &Registry{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *Registry) key(jti string) string {
	return r.prefix + ":rvk:" + jti
}

// Revoke marks a token ID as revoked until the token's own expiry. Revoking
// an already-expired token is a no-op; exp validation upstream rejects it
// anyway.
func (r *Registry) Revoke(ctx context.Context, jti string, exp time.Time) error {
	ttl := exp.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.rdb.Set(ctx, r.key(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether a token ID is on the deny-list.
func (r *Registry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}
