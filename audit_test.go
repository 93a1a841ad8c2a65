package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func drainEvents(sink *ChannelSink) []AuditEvent {
	var events []AuditEvent
	for {
		select {
		case event := <-sink.Events():
			events = append(events, event)
		default:
			return events
		}
	}
}

func eventTypes(events []AuditEvent) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEngine(t, func(b *Builder) { b.WithAuditSink(sink) })
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	_, err := env.engine.Login(ctx, "alice@example.com", "wrong", DeviceMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	pair, err := env.engine.Login(ctx, "alice@example.com", "correct-horse", DeviceMeta{})
	require.NoError(t, err)
	require.NoError(t, env.engine.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	// Close drains the dispatcher before returning
	env.engine.Close()

	events := drainEvents(sink)
	types := eventTypes(events)
	require.Contains(t, types, AuditLoginFailure)
	require.Contains(t, types, AuditLoginSuccess)
	require.Contains(t, types, AuditLogout)

	for _, event := range events {
		require.False(t, event.Timestamp.IsZero())
		if event.EventType == AuditLoginSuccess {
			require.True(t, event.Success)
			require.Equal(t, "u1", event.UserID)
			require.NotEmpty(t, event.SessionID)
			require.Equal(t, "203.0.113.9", event.IP)
		}
		if event.EventType == AuditLoginFailure {
			require.False(t, event.Success)
			require.Equal(t, "password_mismatch", event.Metadata["reason"])
		}
	}
}

func TestRefreshReuseAuditCarriesBumpFlag(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEngine(t, func(b *Builder) { b.WithAuditSink(sink) })
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	ctx := context.Background()

	pair := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})
	_, err := env.engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = env.engine.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)

	env.engine.Close()

	var reuse *AuditEvent
	for _, event := range drainEvents(sink) {
		if event.EventType == AuditRefreshReuse {
			e := event
			reuse = &e
		}
	}
	require.NotNil(t, reuse)
	require.Equal(t, "true", reuse.Metadata["version_bumped"])
	require.Equal(t, "u1", reuse.UserID)
}

func TestAuditDispatcherDropsUnderBackpressure(t *testing.T) {
	blocker := make(chan struct{})
	slow := sinkFunc(func(ctx context.Context, event AuditEvent) {
		<-blocker
	})

	d := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, slow)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		d.Emit(ctx, AuditEvent{EventType: AuditLoginSuccess})
	}

	require.Greater(t, d.Dropped(), uint64(0))

	close(blocker)
	d.Close()
}

func TestAuditDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 16,
		DropIfFull: true,
	}, sink)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.Emit(ctx, AuditEvent{EventType: AuditLogout})
	}
	d.Close()

	require.Len(t, drainEvents(sink), 5)
	require.Zero(t, d.Dropped())
}

func TestAuditDisabledDispatcherIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	require.Nil(t, d)

	// a nil dispatcher is safe to use
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	require.Zero(t, d.Dropped())
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditLoginSuccess,
		UserID:    "u1",
		Success:   true,
	})

	var decoded AuditEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, AuditLoginSuccess, decoded.EventType)
	require.Equal(t, "u1", decoded.UserID)
	require.True(t, decoded.Success)
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))
	ctx := context.Background()

	sink.Emit(ctx, AuditEvent{EventType: AuditLoginSuccess, Success: true, UserID: "u1"})
	sink.Emit(ctx, AuditEvent{EventType: AuditLoginFailure, Success: false, Error: "invalid credentials"})

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, AuditLoginSuccess, entries[0].Message)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, AuditLoginFailure, entries[1].Message)
}

type sinkFunc func(ctx context.Context, event AuditEvent)

func (f sinkFunc) Emit(ctx context.Context, event AuditEvent) { f(ctx, event) }
