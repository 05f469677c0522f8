package alerts

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MessageCache stores composed messages by content hash
type MessageCache interface {
	GetMessage(contentHash string) (Message, bool, error)
	SetMessage(contentHash string, message Message, ttl time.Duration) error
}

// CachedComposer wraps a MessageComposer with content-based caching so the
// same facts are only phrased once
type CachedComposer struct {
	composer MessageComposer
	cache    MessageCache
	ttl      time.Duration
	logger   *zap.SugaredLogger
}

// NewCachedComposer creates a composer with content-based caching
func NewCachedComposer(composer MessageComposer, cache MessageCache, ttl time.Duration, logger *zap.SugaredLogger) *CachedComposer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedComposer{
		composer: composer,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.With("component", "cached_composer"),
	}
}

// Compose checks the cache first, then the wrapped composer
func (c *CachedComposer) Compose(ctx context.Context, in MessageInput) (Message, error) {
	hash := messageHash(in)

	if cached, found, err := c.cache.GetMessage(hash); err == nil && found {
		c.logger.Debugw("message cache hit", "hash", hash[:8])
		return cached, nil
	}

	message, err := c.composer.Compose(ctx, in)
	if err != nil {
		return message, err
	}

	if err := c.cache.SetMessage(hash, message, c.ttl); err != nil {
		c.logger.Warnw("failed to cache composed message", "error", err)
	}

	return message, nil
}

func messageHash(in MessageInput) string {
	return ContentHash(
		string(in.Audience),
		fmt.Sprintf("%.2f", in.CongestedKm),
		string(in.Severity),
		in.RegionName,
		in.RouteName,
		fmt.Sprintf("%t", in.OnRoute),
		in.StartAddress,
		in.EndAddress,
	)
}
