package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	rdb "bundlealert-miniapp/internal/platform/redis"
)

// RedisStore keeps values in redis under "<namespace>:<area>:".
type RedisStore struct {
	client *rdb.Client
	prefix string
}

// NewRedisStore returns a store for one storage area, e.g. "local".
func NewRedisStore(client *rdb.Client, namespace, area string) *RedisStore {
	return &RedisStore{client: client, prefix: namespace + ":" + area + ":"}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys of this area with the namespace stripped.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.client.ScanPrefix(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	return keys, nil
}
