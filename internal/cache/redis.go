package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
)

const (
	redisPrefix    = "trafficwatch:"
	redisTimeout   = 250 * time.Millisecond
	redisPingAfter = 2 * time.Second
)

// RedisStore keeps dedupe markers and composed messages in Redis so that
// several server instances share them
type RedisStore struct {
	client  *redis.Client
	logger  *zap.SugaredLogger
	prefix  string
	timeout time.Duration
}

var (
	_ alerts.MarkerStore  = (*RedisStore)(nil)
	_ alerts.MessageCache = (*RedisStore)(nil)
)

// NewRedisStore connects to Redis and verifies the connection with a ping
func NewRedisStore(addr, password string, db int, logger *zap.SugaredLogger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return newRedisStore(client, logger)
}

func newRedisStore(client *redis.Client, logger *zap.SugaredLogger) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisPingAfter)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{
		client:  client,
		logger:  logger.With("component", "redis_store"),
		prefix:  redisPrefix,
		timeout: redisTimeout,
	}, nil
}

// Exists reports whether key is set
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetMarker sets key with an expiry of ttl
func (s *RedisStore) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, "1", ttl).Err()
}

// GetMessage returns a cached message by content hash
func (s *RedisStore) GetMessage(contentHash string) (alerts.Message, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var message alerts.Message
	raw, err := s.client.Get(ctx, s.prefix+messageKey(contentHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return message, false, nil
	}
	if err != nil {
		s.logger.Warnw("redis get failed", "error", err)
		return message, false, err
	}
	if err := json.Unmarshal(raw, &message); err != nil {
		return message, false, fmt.Errorf("failed to unmarshal cached message: %w", err)
	}
	return message, true, nil
}

// SetMessage caches a message by content hash
func (s *RedisStore) SetMessage(contentHash string, message alerts.Message, ttl time.Duration) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Set(ctx, s.prefix+messageKey(contentHash), raw, ttl).Err()
}

// Close releases the connection pool
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
