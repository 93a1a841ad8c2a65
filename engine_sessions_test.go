package authcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListSessionsMarksCurrent(t *testing.T) {
	env := newTestEngine(t)
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	ctx := context.Background()

	laptop := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{Device: "laptop"})
	mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{Device: "phone"})

	infos, err := env.engine.ListSessions(ctx, laptop.AccessToken)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	currents := 0
	for _, info := range infos {
		require.NotEmpty(t, info.SessionID)
		require.False(t, info.ExpiresAt.IsZero())
		if info.IsCurrent {
			currents++
			require.Equal(t, "laptop", info.Device)
		}
	}
	require.Equal(t, 1, currents)
}

func TestListSessionsOnlyOwn(t *testing.T) {
	env := newTestEngine(t)
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	seedUser(t, env, "u2", "bob@example.com", "correct-horse")
	ctx := context.Background()

	alice := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})
	mustLogin(t, env, "bob@example.com", "correct-horse", DeviceMeta{})

	infos, err := env.engine.ListSessions(ctx, alice.AccessToken)
	require.NoError(t, err)
	require.Len(t, infos, 1)
}

func TestRevokeSessionOtherDevice(t *testing.T) {
	env := newTestEngine(t)
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	ctx := context.Background()

	laptop := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{Device: "laptop"})
	phone := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{Device: "phone"})

	phoneVerified, err := env.engine.Verify(ctx, phone.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.engine.RevokeSession(ctx, laptop.AccessToken, phoneVerified.SessionID))

	// the phone's refresh chain is dead, its access token merely expires
	_, err = env.engine.Refresh(ctx, phone.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)

	// the caller's session is untouched
	_, err = env.engine.Verify(ctx, laptop.AccessToken)
	require.NoError(t, err)
}

func TestRevokeSessionForeignOwnerDenied(t *testing.T) {
	env := newTestEngine(t)
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	seedUser(t, env, "u2", "bob@example.com", "correct-horse")
	ctx := context.Background()

	alice := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})
	bob := mustLogin(t, env, "bob@example.com", "correct-horse", DeviceMeta{})

	bobVerified, err := env.engine.Verify(ctx, bob.AccessToken)
	require.NoError(t, err)

	err = env.engine.RevokeSession(ctx, alice.AccessToken, bobVerified.SessionID)
	require.ErrorIs(t, err, ErrNotSessionOwner)

	// bob is unaffected
	_, err = env.engine.Verify(ctx, bob.AccessToken)
	require.NoError(t, err)
}

func TestRevokeSessionUnknownIDLooksForeign(t *testing.T) {
	env := newTestEngine(t)
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")

	alice := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})

	err := env.engine.RevokeSession(context.Background(), alice.AccessToken, "no-such-session")
	require.ErrorIs(t, err, ErrNotSessionOwner)
}

func TestActiveSessionCount(t *testing.T) {
	env := newTestEngine(t)
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	ctx := context.Background()

	first := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})

	count, err := env.engine.ActiveSessionCount(ctx, first.AccessToken)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})
	mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})

	count, err = env.engine.ActiveSessionCount(ctx, first.AccessToken)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}
