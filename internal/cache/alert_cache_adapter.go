package cache

import (
	"context"
	"time"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
)

const (
	markerSource  = "dedupe_marker"
	messageSource = "composed_message"
)

// AlertCacheAdapter lets the alerts package use the in-memory cache for
// dedupe markers and composed messages
type AlertCacheAdapter struct {
	cache *Cache
}

var (
	_ alerts.MarkerStore  = (*AlertCacheAdapter)(nil)
	_ alerts.MessageCache = (*AlertCacheAdapter)(nil)
)

// NewAlertCacheAdapter creates an adapter for alert caching
func NewAlertCacheAdapter(cache *Cache) *AlertCacheAdapter {
	return &AlertCacheAdapter{cache: cache}
}

// Exists reports whether a fresh marker is set for key
func (a *AlertCacheAdapter) Exists(_ context.Context, key string) (bool, error) {
	return !a.cache.IsStale(key), nil
}

// SetMarker sets a marker for key that expires after ttl
func (a *AlertCacheAdapter) SetMarker(_ context.Context, key string, ttl time.Duration) error {
	return a.cache.Set(key, true, ttl, markerSource)
}

// GetMessage returns a cached message by content hash
func (a *AlertCacheAdapter) GetMessage(contentHash string) (alerts.Message, bool, error) {
	var message alerts.Message
	found, err := a.cache.Get(messageKey(contentHash), &message)
	return message, found, err
}

// SetMessage caches a message by content hash
func (a *AlertCacheAdapter) SetMessage(contentHash string, message alerts.Message, ttl time.Duration) error {
	return a.cache.Set(messageKey(contentHash), message, ttl, messageSource)
}

func messageKey(contentHash string) string {
	return "message:" + contentHash
}
