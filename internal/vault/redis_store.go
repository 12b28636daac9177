package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares resolved descriptors between hosts.
//
// Key schema:
//
//	yieldmove:vault:{network}:{market} - JSON array of descriptors, no TTL
type RedisStore struct {
	rdb redis.Cmdable
}

// RedisConfig holds connection parameters for OpenRedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, func() error, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisStore(rdb), rdb.Close, nil
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(key Key) string {
	return "yieldmove:vault:" + key.String()
}

func (s *RedisStore) Get(ctx context.Context, key Key) ([]Descriptor, bool, error) {
	raw, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	var descriptors []Descriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return nil, false, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return descriptors, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, descriptors []Descriptor) error {
	data, err := json.Marshal(descriptors)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}
