package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

func TestDedupeKey(t *testing.T) {
	at := time.Date(2026, 3, 14, 8, 30, 59, 999, time.FixedZone("PDT", -7*3600))
	assert.Equal(t, "alert:region:3:2026-03-14T15:30", DedupeKey("region:3", at))

	// Same minute shares a key, the next minute does not
	assert.Equal(t, DedupeKey("x", at), DedupeKey("x", at.Add(-30*time.Second)))
	assert.NotEqual(t, DedupeKey("x", at), DedupeKey("x", at.Add(time.Second)))
}

func TestDeduplicator_NilStore(t *testing.T) {
	d := NewDeduplicator(nil, zap.NewNop().Sugar())
	assert.False(t, d.Enabled())
	assert.False(t, d.ShouldSkip(context.Background(), "region:1", fixedNow))

	// Must not panic
	d.MarkChecked(context.Background(), "region:1", fixedNow, time.Minute)
}

func TestDeduplicator_MarkThenSkip(t *testing.T) {
	store := newMemoryMarkers()
	d := NewDeduplicator(store, zap.NewNop().Sugar())

	assert.False(t, d.ShouldSkip(context.Background(), "region:1", fixedNow))
	d.MarkChecked(context.Background(), "region:1", fixedNow, 0)
	assert.True(t, d.ShouldSkip(context.Background(), "region:1", fixedNow))
	assert.False(t, d.ShouldSkip(context.Background(), "region:2", fixedNow))
	assert.False(t, d.ShouldSkip(context.Background(), "region:1", fixedNow.Add(time.Minute)))

	assert.Equal(t, DefaultDedupeTTL, store.markers[DedupeKey("region:1", fixedNow)])
}

func TestDeduplicator_FailsOpen(t *testing.T) {
	store := newMemoryMarkers()
	store.err = errors.New("i/o timeout")
	d := NewDeduplicator(store, zap.NewNop().Sugar())

	assert.True(t, d.Enabled())
	assert.False(t, d.ShouldSkip(context.Background(), "region:1", fixedNow))
	d.MarkChecked(context.Background(), "region:1", fixedNow, time.Minute)
}

func TestFingerprints(t *testing.T) {
	assert.Equal(t, "region:42", RegionFingerprint(42))

	a := RouteFingerprint(angelsCamp, murphys)
	assert.Regexp(t, `^route:[0-9a-f]{16}$`, a)

	// Sub-precision jitter maps to the same fingerprint
	jittered := geo.Point{Latitude: angelsCamp.Latitude + 0.00001, Longitude: angelsCamp.Longitude}
	assert.Equal(t, a, RouteFingerprint(jittered, murphys))

	// Direction matters
	assert.NotEqual(t, a, RouteFingerprint(murphys, angelsCamp))
}
