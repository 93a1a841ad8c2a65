package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures so callers can
// distinguish infrastructure trouble from auth decisions.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when the target session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned when the target session outlived its expiry
// but had not yet been evicted.
var ErrSessionExpired = errors.New("session expired")

// ErrHashMismatch is returned by ConsumeAndReplace when the presented
// refresh-token hash does not match the stored one. The caller treats this
// as token replay.
var ErrHashMismatch = errors.New("refresh hash mismatch")

// HashMismatchError carries the owning user of a replayed session so the
// caller can invalidate the rest of that user's tokens. It matches
// [ErrHashMismatch] under errors.Is.
type HashMismatchError struct {
	UserID string
}

func (e *HashMismatchError) Error() string { return "refresh hash mismatch" }

func (e *HashMismatchError) Is(target error) bool { return target == ErrHashMismatch }

const (
	consumeStatusNotFound int64 = 0
	consumeStatusExpired  int64 = 1
	consumeStatusMismatch int64 = 2
	consumeStatusReplaced int64 = 3
	consumeStatusCorrupt  int64 = 4
)

// consumeAndReplaceScript is the rotation CAS. It loads the session, checks
// liveness, compares the presented refresh hash against the stored one and,
// only on a match, installs the successor hash with a renewed expiry. Any
// divergence tears the session down inside the same script so a replayed
// token can never race a concurrent legitimate refresh into a valid state.
const consumeAndReplaceScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local ok, sess = pcall(cjson.decode, data)
if not ok or type(sess) ~= "table" or not sess.userId or not sess.refreshHash then
  return {4}
end

local user_key = ARGV[5] .. sess.userId
local now = tonumber(ARGV[2])

if tonumber(sess.expiresAt) <= now then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", user_key, ARGV[1])
  return {1}
end

if sess.refreshHash ~= ARGV[3] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", user_key, ARGV[1])
  return {2, sess.userId}
end

sess.refreshHash = ARGV[4]
sess.expiresAt = tonumber(ARGV[6])

local updated = cjson.encode(sess)
redis.call("SET", KEYS[1], updated, "PX", tonumber(ARGV[7]))
redis.call("SADD", user_key, ARGV[1])

return {3, updated}
`

var consumeAndReplaceLua = redis.NewScript(consumeAndReplaceScript)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store persists sessions in Redis under a configurable key prefix and keeps
// a per-user index set of live session IDs.
type Store struct {
	rdb    redis.UniversalClient
	prefix string

	now func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save persists a session and registers it in the user's index set. The
// Redis TTL is derived from the session's expiry.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := time.Unix(sess.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return ErrSessionExpired
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get fetches a session by ID without mutating any Redis state.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if s.now().Unix() >= sess.ExpiresAt {
		_ = s.Delete(ctx, sessionID, sess.UserID)
		return nil, ErrSessionExpired
	}

	return sess, nil
}

// ConsumeAndReplace atomically swaps the stored refresh hash for its
// successor and extends the session expiry. Exactly one of any set of
// concurrent callers presenting the same hash wins; the rest get
// [ErrHashMismatch] because the winner already replaced the hash.
//
// On mismatch the error is a [*HashMismatchError] carrying the owning user
// ID, and the session has already been destroyed server-side.
func (s *Store) ConsumeAndReplace(
	ctx context.Context,
	sessionID string,
	presentedHash, nextHash string,
	newExpiry time.Time,
) (*Session, error) {
	ttl := newExpiry.Sub(s.now())
	if ttl <= 0 {
		return nil, ErrSessionExpired
	}

	result, err := consumeAndReplaceLua.Run(
		ctx,
		s.rdb,
		[]string{s.key(sessionID)},
		sessionID,
		s.now().Unix(),
		presentedHash,
		nextHash,
		s.prefix+":u:",
		newExpiry.Unix(),
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotation script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotation script status", ErrRedisUnavailable)
	}

	switch code {
	case consumeStatusNotFound:
		return nil, ErrSessionNotFound
	case consumeStatusExpired:
		return nil, ErrSessionExpired
	case consumeStatusMismatch:
		userID := ""
		if len(parts) > 1 {
			if v, ok := parts[1].(string); ok {
				userID = v
			}
		}
		return nil, &HashMismatchError{UserID: userID}
	case consumeStatusReplaced:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrRedisUnavailable)
		}
		blob, ok := parts[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrRedisUnavailable)
		}
		sess, decErr := Decode([]byte(blob))
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionID
		return sess, nil
	case consumeStatusCorrupt:
		return nil, ErrCorruptSession
	default:
		return nil, fmt.Errorf("%w: unknown rotation script status", ErrRedisUnavailable)
	}
}

// Delete removes one session and its index entry. Deleting an absent
// session is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID, userID string) error {
	_, err := deleteSessionLua.Run(
		ctx,
		s.rdb,
		[]string{s.key(sessionID), s.userKey(userID)},
		sessionID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every tracked session of one user. A session
// created concurrently with this call may survive; it stays subject to the
// caller's version guard regardless.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	sessionIDs, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, userKey)

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// ActiveSessionIDs returns the tracked session IDs for a user. Entries whose
// session key has already expired are pruned from the index on the way out.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	userKey := s.userKey(userID)

	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			live = append(live, ids[i])
		} else {
			stale = append(stale, ids[i])
		}
	}

	if len(stale) > 0 {
		_ = s.rdb.SRem(ctx, userKey, stale...).Err()
	}

	return live, nil
}

// GetManyForUser fetches the live sessions behind a list of IDs, skipping
// any that have expired since the ID list was read.
func (s *Store) GetManyForUser(ctx context.Context, sessionIDs []string) ([]*Session, error) {
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	nowUnix := s.now().Unix()
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionIDs[i]
		if nowUnix >= sess.ExpiresAt {
			continue
		}

		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// ActiveSessionCount reports how many sessions a user currently holds.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	ids, err := s.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Ping reports point-in-time Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := s.now()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
