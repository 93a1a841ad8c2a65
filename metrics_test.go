package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricRefreshSuccess)

	require.EqualValues(t, 2, m.Value(MetricLoginSuccess))
	require.EqualValues(t, 1, m.Value(MetricRefreshSuccess))
	require.Zero(t, m.Value(MetricLoginFailure))

	snap := m.Snapshot()
	require.EqualValues(t, 2, snap.Counters[MetricLoginSuccess])
	require.Empty(t, snap.Histograms)
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)
	require.Zero(t, m.Value(MetricLoginSuccess))
	require.Empty(t, m.Snapshot().Counters)
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricVerifyLatency, time.Millisecond)
	require.Zero(t, m.Value(MetricLoginSuccess))
	require.False(t, m.Enabled())

	snap := m.Snapshot()
	require.NotNil(t, snap.Counters)
	require.NotNil(t, snap.Histograms)
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Observe(MetricVerifyLatency, 3*time.Millisecond)   // bucket le_5
	m.Observe(MetricVerifyLatency, 8*time.Millisecond)   // bucket le_10
	m.Observe(MetricVerifyLatency, 700*time.Millisecond) // open-ended bucket

	buckets := m.Snapshot().Histograms[MetricVerifyLatency]
	require.Len(t, buckets, 8)
	require.EqualValues(t, 1, buckets[0])
	require.EqualValues(t, 1, buckets[1])
	require.EqualValues(t, 1, buckets[7])
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricVerifySuccess)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, workers*perWorker, m.Value(MetricVerifySuccess))
}

func TestMetricNamesStable(t *testing.T) {
	seen := map[string]bool{}
	for _, id := range MetricIDs() {
		name := MetricName(id)
		require.NotEqual(t, "unknown", name)
		require.False(t, seen[name], "duplicate metric name %q", name)
		seen[name] = true
	}
}

func TestEngineCountsOperations(t *testing.T) {
	env := newTestEngine(t)
	seedUser(t, env, "u1", "alice@example.com", "correct-horse")
	ctx := context.Background()

	pair := mustLogin(t, env, "alice@example.com", "correct-horse", DeviceMeta{})
	_, err := env.engine.Login(ctx, "alice@example.com", "wrong", DeviceMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.engine.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	_, err = env.engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	snap := env.engine.MetricsSnapshot()
	require.EqualValues(t, 1, snap.Counters[MetricLoginSuccess])
	require.EqualValues(t, 1, snap.Counters[MetricLoginFailure])
	require.EqualValues(t, 1, snap.Counters[MetricRefreshSuccess])
	require.EqualValues(t, 1, snap.Counters[MetricSessionCreated])
	require.GreaterOrEqual(t, snap.Counters[MetricVerifySuccess], uint64(1))
}
