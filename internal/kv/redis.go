package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"authcore/internal/apperr"
)

const (
	defaultKeyPrefix = "authcore"
	casMaxRetries    = 4
)

// RedisStore is a Store backed by Redis. Keys are namespaced with a prefix so several
// services can share one instance.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis parses a redis:// URL, connects, and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisStore returns a RedisStore using client. An empty prefix selects the default.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return apperr.Unavailable("kv store unavailable", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Unavailable("kv store unavailable", err)
	}
	return v, true, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return apperr.Unavailable("kv store unavailable", err)
	}
	return nil
}

// CompareAndDelete watches key, checks its value, and deletes it inside MULTI/EXEC.
// A concurrent writer aborts the transaction and the check is retried.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	k := s.key(key)
	for i := 0; i < casMaxRetries; i++ {
		deleted := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			v, err := tx.Get(ctx, k).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if v != expected {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, k)
				return nil
			})
			if err != nil {
				return err
			}
			deleted = true
			return nil
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, apperr.Unavailable("kv store unavailable", err)
		}
		return deleted, nil
	}
	return false, nil
}

// Incr uses INCR and sets the window expiry on the first hit only.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := s.key(key)
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, apperr.Unavailable("kv store unavailable", err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
			return 0, apperr.Unavailable("kv store unavailable", err)
		}
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperr.Unavailable("kv store unavailable", err)
	}
	return nil
}
