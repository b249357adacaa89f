package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/mpc-custody/interfaces"
)

// RedisBackend stores records as plain Redis string values under a key prefix.
// Values never expire; durability follows the server's persistence settings.
type RedisBackend struct {
	client      redis.UniversalClient
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewRedisBackend connects using a redis:// or rediss:// URL.
func NewRedisBackend(redisURL, prefix string, log *slog.Logger) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	return NewRedisBackendWithClient(redis.NewClient(opts), prefix, redactURL(redisURL), log), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client redis.UniversalClient, prefix, locationURI string, log *slog.Logger) *RedisBackend {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "custody"
	}
	return &RedisBackend{client: client, prefix: prefix, log: log, locationURI: locationURI}
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + ":" + k
}

func (b *RedisBackend) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		b.log.Error("Failed to read from Redis", slog.String("key", key), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return data, nil
}

func (b *RedisBackend) Store(ctx context.Context, key string, data []byte) error {
	if err := b.client.Set(ctx, b.key(key), data, 0).Err(); err != nil {
		b.log.Error("Failed to write to Redis", slog.String("key", key), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *RedisBackend) Available(ctx context.Context) bool {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.log.Debug("Redis backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *RedisBackend) Name() string {
	return "redis-" + b.prefix
}

func (b *RedisBackend) LocationURI() string {
	return b.locationURI
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
