package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/clock"
	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"pgregory.net/rapid"
)

func newTestManager(t *testing.T) (*Manager, *clock.Fixture) {
	t.Helper()
	clk := clock.NewFixture(testStart)
	m := NewManager(Config{DefaultTTL: time.Hour}, WithClock(clk))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, clk
}

func TestManager_PutAndGetToken(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	tok := appToken("a-123")

	require.NoError(t, m.PutToken(ctx, "k1", tok))

	got, found, err := m.GetToken(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tok.AccessToken, got.AccessToken)

	contains, err := m.ContainsToken(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, contains)

	size, err := m.GetCacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestManager_PutTokenWithTTL(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)

	require.NoError(t, m.PutTokenWithTTL(ctx, "short", appToken("s"), time.Minute))
	require.NoError(t, m.PutTokenWithTTL(ctx, "long", appToken("l"), 3*time.Hour))

	clk.Advance(2 * time.Hour)

	_, found, _ := m.GetToken(ctx, "short")
	assert.False(t, found)
	_, found, _ = m.GetToken(ctx, "long")
	assert.True(t, found)
}

func TestManager_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	_ = m.PutToken(ctx, "a", appToken("1"))
	_ = m.PutToken(ctx, "b", appToken("2"))

	require.NoError(t, m.RemoveToken(ctx, "a"))
	contains, _ := m.ContainsToken(ctx, "a")
	assert.False(t, contains)

	require.NoError(t, m.ClearCache(ctx))
	empty, err := m.IsCacheEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestManager_CleanupExpiredTokens(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	_ = m.PutTokenWithTTL(ctx, "elapsed", appToken("old"), time.Second)
	_ = m.PutTokenWithTTL(ctx, "live", appToken("new"), 10*time.Hour)
	clk.Advance(time.Minute)

	removed, err := m.CleanupExpiredTokens(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	size, _ := m.GetCacheSize(ctx)
	assert.Equal(t, 1, size)
}

func TestManager_HitRate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	rate, err := m.GetHitRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)

	_ = m.PutToken(ctx, "a", appToken("1"))
	m.GetToken(ctx, "a")
	m.GetToken(ctx, "a")
	m.GetToken(ctx, "a")
	m.GetToken(ctx, "missing")

	rate, err = m.GetHitRate(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, rate, 1e-9)

	stats, err := m.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Hits: 3, Misses: 1, CurrentSize: 1}, stats)
}

func TestManager_HitRate_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		m := NewManager(Config{DefaultTTL: time.Hour}, WithClock(clock.NewFixture(testStart)))
		_ = m.PutToken(ctx, "present", appToken("1"))

		hits := rapid.IntRange(0, 50).Draw(t, "hits")
		misses := rapid.IntRange(0, 50).Draw(t, "misses")
		for range hits {
			m.GetToken(ctx, "present")
		}
		for range misses {
			m.GetToken(ctx, "absent")
		}

		rate, err := m.GetHitRate(ctx)
		require.NoError(t, err)
		if hits+misses == 0 {
			assert.Equal(t, 0.0, rate)
		} else {
			assert.InDelta(t, float64(hits)/float64(hits+misses), rate, 1e-9)
		}
	})
}

func TestManager_BatchGetTokens_PreservesShape(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	_ = m.BatchPutTokens(ctx, []KeyedToken{
		{Key: "a", Token: appToken("1")},
		{Key: "c", Token: appToken("3")},
	})

	results := m.BatchGetTokens(ctx, []string{"a", "b", "c", "a"})

	require.Len(t, results, 4)
	assert.True(t, results[0].Found)
	assert.Equal(t, "1", results[0].Token.AccessToken)
	assert.False(t, results[1].Found)
	assert.True(t, results[2].Found)
	assert.Equal(t, "3", results[2].Token.AccessToken)
	assert.True(t, results[3].Found)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestManager_BatchGetTokens_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		m := NewManager(Config{DefaultTTL: time.Hour}, WithClock(clock.NewFixture(testStart)))

		stored := rapid.SliceOf(rapid.StringMatching(`[a-c]{1,2}`)).Draw(t, "stored")
		for _, k := range stored {
			_ = m.PutToken(ctx, k, appToken("v-"+k))
		}
		keys := rapid.SliceOf(rapid.StringMatching(`[a-c]{1,2}`)).Draw(t, "keys")

		results := m.BatchGetTokens(ctx, keys)

		require.Len(t, results, len(keys))
		for i, key := range keys {
			tok, found, _ := m.GetToken(ctx, key)
			assert.Equal(t, found, results[i].Found)
			assert.Equal(t, tok, results[i].Token)
		}
	})
}

func TestManager_GetCacheKeysByPattern(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	_ = m.PutToken(ctx, "app_access_token", appToken("a"))
	_ = m.PutToken(ctx, "tenant_access_token:tenant1", appToken("t"))

	keys, err := m.GetCacheKeysByPattern(ctx, "tenant_access")

	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_access_token:tenant1"}, keys)
}

func TestManager_GetCacheKeysByPattern_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		m := NewManager(Config{DefaultTTL: time.Hour}, WithClock(clock.NewFixture(testStart)))

		for _, k := range rapid.SliceOf(rapid.StringMatching(`[ab:]{0,6}`)).Draw(t, "keys") {
			_ = m.PutToken(ctx, k, appToken("v"))
		}
		pattern := rapid.StringMatching(`[ab:]{0,3}`).Draw(t, "pattern")

		matched, err := m.GetCacheKeysByPattern(ctx, pattern)
		require.NoError(t, err)

		expected := []string{}
		for _, k := range m.current().Keys() {
			if strings.Contains(k, pattern) {
				expected = append(expected, k)
			}
		}
		assert.ElementsMatch(t, expected, matched)
	})
}

func TestManager_RemoveCacheByPattern(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	_ = m.PutToken(ctx, "app_access_token:cli", appToken("a"))
	_ = m.PutToken(ctx, "tenant_access_token:cli:t1", appToken("t1"))
	_ = m.PutToken(ctx, "tenant_access_token:cli:t2", appToken("t2"))

	removed, err := m.RemoveCacheByPattern(ctx, "tenant_access_token")

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	keys, _ := m.GetCacheKeysByPattern(ctx, "")
	assert.Equal(t, []string{"app_access_token:cli"}, keys)
}

func TestManager_RemoveCacheByPattern_CountsExpiredMatches(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	_ = m.PutTokenWithTTL(ctx, "tenant_access_token:cli:t1", appToken("t1"), time.Second)
	clk.Advance(time.Minute)

	removed, err := m.RemoveCacheByPattern(ctx, "tenant")

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManager_WarmupCache(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	err := m.WarmupCache(ctx, map[string]token.TokenInfo{
		"app_access_token:cli":      appToken("a"),
		"tenant_access_token:cli:x": appToken("t"),
	})

	require.NoError(t, err)
	size, _ := m.GetCacheSize(ctx)
	assert.Equal(t, 2, size)
	tok, found, _ := m.GetToken(ctx, "app_access_token:cli")
	require.True(t, found)
	assert.Equal(t, "a", tok.AccessToken)
}

func TestManager_WarmupCache_SkipsExpiredTokens(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	clk.Advance(3 * time.Hour)

	pinned := appToken("pinned")
	pinned.TTL = 0

	err := m.WarmupCache(ctx, map[string]token.TokenInfo{
		"app_access_token:stale":  appToken("stale"),
		"app_access_token:pinned": pinned,
	})

	require.NoError(t, err)
	keys, _ := m.GetCacheKeysByPattern(ctx, "")
	assert.Equal(t, []string{"app_access_token:pinned"}, keys)
}

func TestManager_GetPerformanceMetrics(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)

	metrics, err := m.GetPerformanceMetrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, metrics.OldestTokenAge, "age is unknown for an empty cache")

	_ = m.PutToken(ctx, "first", appToken("1"))
	clk.Advance(10 * time.Minute)
	_ = m.PutToken(ctx, "second", appToken("2"))
	clk.Advance(5 * time.Minute)
	m.GetToken(ctx, "first")
	m.GetToken(ctx, "nope")

	metrics, err = m.GetPerformanceMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.TotalItems)
	assert.Equal(t, uint64(1), metrics.HitCount)
	assert.Equal(t, uint64(1), metrics.MissCount)
	assert.InDelta(t, 0.5, metrics.HitRate, 1e-9)
	assert.Equal(t, int64(2*estimatedEntryBytes), metrics.MemoryUsageEstimate)
	require.NotNil(t, metrics.OldestTokenAge)
	assert.Equal(t, 15*time.Minute, *metrics.OldestTokenAge)
}

func TestManager_UpdateConfig_PreservesEntries(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	_ = m.PutTokenWithTTL(ctx, "a", appToken("1"), 30*time.Minute)
	_ = m.PutToken(ctx, "b", appToken("2"))
	_ = m.PutTokenWithTTL(ctx, "gone", appToken("3"), time.Second)
	clk.Advance(10 * time.Minute)

	err := m.UpdateConfig(ctx, Config{MaxSize: 100, DefaultTTL: 5 * time.Minute})
	require.NoError(t, err)

	assert.Equal(t, Config{MaxSize: 100, DefaultTTL: 5 * time.Minute}, m.Config())
	keys, _ := m.GetCacheKeysByPattern(ctx, "")
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	// "a" keeps its remaining 20 minutes rather than the new default TTL
	clk.Advance(15 * time.Minute)
	_, found, _ := m.GetToken(ctx, "a")
	assert.True(t, found)

	clk.Advance(5 * time.Minute)
	_, found, _ = m.GetToken(ctx, "a")
	assert.False(t, found)
}

func TestManager_UpdateConfig_ConcurrentWritesSurvive(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.PutToken(ctx, fmt.Sprintf("key-%d", i), appToken("v"))
		}()
	}
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.UpdateConfig(ctx, Config{DefaultTTL: time.Hour})
		}()
	}
	wg.Wait()

	size, _ := m.GetCacheSize(ctx)
	assert.Equal(t, 50, size)
}

func TestManager_RunSweeper_StopsOnCancel(t *testing.T) {
	m, clk := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	_ = m.PutTokenWithTTL(ctx, "elapsed", appToken("old"), time.Second)
	clk.Advance(time.Minute)

	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		size, _ := m.GetCacheSize(ctx)
		return size == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func sizeGaugeValues(t *testing.T, reader *sdkmetric.ManualReader) []int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var values []int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cache.size" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "cache.size should be an int64 gauge")
			for _, dp := range gauge.DataPoints {
				values = append(values, dp.Value)
			}
		}
	}
	return values
}

func TestManager_SizeGauge(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := NewManager(Config{DefaultTTL: time.Hour}, WithMeterProvider(provider))
	require.NoError(t, m.PutToken(ctx, "a", appToken("1")))

	assert.Equal(t, []int64{1}, sizeGaugeValues(t, reader))

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.PutToken(ctx, "b", appToken("2")))

	assert.NotContains(t, sizeGaugeValues(t, reader), int64(2), "closed manager must not report")
	assert.NoError(t, m.Close(ctx), "close is idempotent")
}
