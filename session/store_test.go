package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, "authcore"), mr
}

func testSession(id string) *Session {
	now := time.Now()
	return &Session{
		SessionID:    id,
		UserID:       "user-1",
		Role:         "technician",
		TokenVersion: 1,
		RefreshHash:  "aaaa1111",
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "aaaa1111", got.RefreshHash)
	assert.Equal(t, "s1", got.SessionID)
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConsumeAndReplaceRotates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, store.Save(ctx, sess))

	newExpiry := time.Now().Add(2 * time.Hour)
	rotated, err := store.ConsumeAndReplace(ctx, "s1", "aaaa1111", "bbbb2222", newExpiry)
	require.NoError(t, err)
	assert.Equal(t, "bbbb2222", rotated.RefreshHash)
	assert.Equal(t, newExpiry.Unix(), rotated.ExpiresAt)
	assert.Equal(t, "user-1", rotated.UserID)

	// the old hash is gone; presenting it again is replay
	_, err = store.ConsumeAndReplace(ctx, "s1", "aaaa1111", "cccc3333", newExpiry)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestConsumeAndReplaceMismatchDestroysSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession("s1")))

	_, err := store.ConsumeAndReplace(ctx, "s1", "wrong-hash", "next", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrHashMismatch)

	var mismatch *HashMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "user-1", mismatch.UserID)

	// session is gone, legitimate holder is logged out too
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConsumeAndReplaceNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.ConsumeAndReplace(context.Background(), "ghost", "h", "h2", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConsumeAndReplaceSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession("s1")))

	const goroutines = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		replays int
	)

	newExpiry := time.Now().Add(2 * time.Hour)
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.ConsumeAndReplace(ctx, "s1", "aaaa1111", "bbbb2222", newExpiry)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrHashMismatch) || errors.Is(err, ErrSessionNotFound):
				replays++
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one concurrent refresh must win")
	assert.Equal(t, goroutines-1, replays)
}

func TestDeleteIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession("s1")))
	require.NoError(t, store.Delete(ctx, "s1", "user-1"))
	require.NoError(t, store.Delete(ctx, "s1", "user-1"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteAllForUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, store.Save(ctx, testSession(id)))
	}

	require.NoError(t, store.DeleteAllForUser(ctx, "user-1"))

	ids, err := store.ActiveSessionIDs(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestActiveSessionIDsPrunesExpired(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	short := testSession("short")
	short.ExpiresAt = time.Now().Add(time.Second).Unix()
	require.NoError(t, store.Save(ctx, short))
	require.NoError(t, store.Save(ctx, testSession("long")))

	mr.FastForward(2 * time.Second)

	ids, err := store.ActiveSessionIDs(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, ids)

	count, err := store.ActiveSessionCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetManyForUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession("s1")))
	require.NoError(t, store.Save(ctx, testSession("s2")))

	sessions, err := store.GetManyForUser(ctx, []string{"s1", "missing", "s2"})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestEncodeDecodeRejectsCorrupt(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrCorruptSession)

	_, err = Decode([]byte(`{"userId":"","refreshHash":"h","expiresAt":1}`))
	assert.ErrorIs(t, err, ErrCorruptSession)

	_, err = Encode(&Session{UserID: "u"})
	assert.ErrorIs(t, err, ErrCorruptSession)
}
