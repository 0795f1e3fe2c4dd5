package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an optional multi-instance extraction Store backed by
// Redis, for deployments running more than one engine process against the
// same extraction cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig names the connection parameters for a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys, e.g. "memengine:extraction:".
	Prefix string
}

// NewRedisStore builds a RedisStore from cfg.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, prefix: cfg.Prefix}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID, text string) error {
	return s.client.Set(ctx, s.key(sessionID), text, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Ping verifies connectivity, surfaced for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
