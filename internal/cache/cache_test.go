package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache() (*Cache, *testClock) {
	clock := &testClock{now: time.Date(2026, 5, 1, 7, 45, 0, 0, time.UTC)}
	return NewCacheWithClock(clock.Now), clock
}

func TestCache_SetGet(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("route:a", map[string]int{"delay": 90}, time.Minute, "compare"))

	var got map[string]int
	found, err := c.Get("route:a", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 90, got["delay"])

	clock.Advance(61 * time.Second)
	found, err = c.Get("route:a", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, c.IsStale("route:a"))
}

func TestCache_MissingAndDelete(t *testing.T) {
	c, _ := newTestCache()

	var v string
	found, err := c.Get("missing", &v)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set("k", "v", time.Minute, "test"))
	c.Delete("k")
	assert.True(t, c.IsStale("k"))
}

func TestCache_SetRejectsUnmarshalable(t *testing.T) {
	c, _ := newTestCache()
	assert.Error(t, c.Set("k", make(chan int), time.Minute, "test"))
}

func TestCache_CleanupAndStats(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("short", 1, time.Second, "test"))
	clock.Advance(time.Second)
	require.NoError(t, c.Set("long", 2, time.Hour, "test"))
	clock.Advance(time.Second)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, 1, stats.FreshEntries)
	assert.True(t, stats.OldestEntry.Before(stats.NewestEntry))

	assert.Equal(t, 1, c.CleanupStale())
	assert.Equal(t, 1, c.Stats().TotalEntries)
}

func TestCache_PeriodicCleanupStopsWithContext(t *testing.T) {
	c := NewCacheWithClock(func() time.Time { return time.Now().Add(time.Hour) })
	require.NoError(t, c.Set("old", 1, time.Minute, "test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartPeriodicCleanup(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Stats().TotalEntries == 0
	}, time.Second, 5*time.Millisecond)
}

func TestAlertCacheAdapter_Markers(t *testing.T) {
	c, clock := newTestCache()
	adapter := NewAlertCacheAdapter(c)
	dedupe := alerts.NewDeduplicator(adapter, zap.NewNop().Sugar())
	ctx := context.Background()

	assert.False(t, dedupe.ShouldSkip(ctx, "region:1", clock.now))
	dedupe.MarkChecked(ctx, "region:1", clock.now, 5*time.Minute)
	assert.True(t, dedupe.ShouldSkip(ctx, "region:1", clock.now))

	// The marker outlives its minute but the key does not carry over
	clock.Advance(time.Minute)
	assert.False(t, dedupe.ShouldSkip(ctx, "region:1", clock.now))

	exists, err := adapter.Exists(ctx, alerts.DedupeKey("region:1", clock.now.Add(-time.Minute)))
	require.NoError(t, err)
	assert.True(t, exists)

	clock.Advance(5 * time.Minute)
	exists, err = adapter.Exists(ctx, alerts.DedupeKey("region:1", clock.now.Add(-6*time.Minute)))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAlertCacheAdapter_Messages(t *testing.T) {
	c, _ := newTestCache()
	adapter := NewAlertCacheAdapter(c)

	_, found, err := adapter.GetMessage("abc")
	require.NoError(t, err)
	assert.False(t, found)

	want := alerts.Message{Title: "New Traffic Alert", Body: "Traffic congestion detected: 2.00km"}
	require.NoError(t, adapter.SetMessage("abc", want, time.Hour))

	got, found, err := adapter.GetMessage("abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1", "", 0, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis")
}
