package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cermont-atg/authcore/session"
)

// resetStore keeps single-use password reset tokens in Redis. Only the
// SHA-256 of the token is stored; the plaintext travels to the user (via
// whatever delivery the caller runs) and comes back exactly once.
type resetStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func newResetStore(rdb redis.UniversalClient, prefix string) *resetStore {
	return &resetStore{rdb: rdb, prefix: prefix}
}

func (s *resetStore) key(tokenHash string) string {
	return s.prefix + ":pr:" + tokenHash
}

func (s *resetStore) Save(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(tokenHash), userID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrRedisUnavailable, err)
	}
	return nil
}

// Consume atomically removes the token and returns its user. GETDEL makes
// double-spending a reset link impossible even under concurrent confirms.
func (s *resetStore) Consume(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.rdb.GetDel(ctx, s.key(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrResetTokenInvalid
		}
		return "", fmt.Errorf("%w: %v", session.ErrRedisUnavailable, err)
	}
	return userID, nil
}
