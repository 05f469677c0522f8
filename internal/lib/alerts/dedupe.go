package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultDedupeTTL is how long a dedupe marker lives
	DefaultDedupeTTL = 5 * time.Minute

	// DefaultBackstopWindow is how far back the persisted PENDING check looks
	DefaultBackstopWindow = 10 * time.Minute

	defaultMarkerTimeout = 250 * time.Millisecond
)

// MarkerStore holds short-lived presence markers
type MarkerStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetMarker(ctx context.Context, key string, ttl time.Duration) error
}

// Deduplicator is the advisory first layer of alert suppression. It fails
// open: with no store, or a failing one, ShouldSkip reports false.
type Deduplicator struct {
	store   MarkerStore
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewDeduplicator creates a Deduplicator. store may be nil.
func NewDeduplicator(store MarkerStore, logger *zap.SugaredLogger) *Deduplicator {
	return &Deduplicator{
		store:   store,
		timeout: defaultMarkerTimeout,
		logger:  logger.With("component", "dedupe"),
	}
}

// DedupeKey buckets a fingerprint by the minute of at
func DedupeKey(fingerprint string, at time.Time) string {
	return "alert:" + fingerprint + ":" + at.UTC().Truncate(time.Minute).Format("2006-01-02T15:04")
}

// Enabled reports whether a marker store is configured
func (d *Deduplicator) Enabled() bool {
	return d != nil && d.store != nil
}

// ShouldSkip reports whether a live marker exists for the fingerprint in
// the minute of at
func (d *Deduplicator) ShouldSkip(ctx context.Context, fingerprint string, at time.Time) bool {
	if !d.Enabled() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	key := DedupeKey(fingerprint, at)
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		d.logger.Warnw("dedupe lookup failed, re-checking", "key", key, "error", err)
		return false
	}
	return exists
}

// MarkChecked sets the marker for the fingerprint in the minute of at.
// Failures are logged and ignored.
func (d *Deduplicator) MarkChecked(ctx context.Context, fingerprint string, at time.Time, ttl time.Duration) {
	if !d.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	key := DedupeKey(fingerprint, at)
	if err := d.store.SetMarker(ctx, key, ttl); err != nil {
		d.logger.Warnw("dedupe mark failed", "key", key, "error", err)
	}
}
