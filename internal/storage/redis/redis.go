// Package redis implements the durable cache tier on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"jpyc-onchain-lab/internal/storage"
)

// DefaultPrefix namespaces every key written by DurableStore.
const DefaultPrefix = "jpyc:cache:"

// NewClient creates a Redis client from a redis:// URL and verifies it.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// DurableStore implements storage.DurableStore using plain string keys and
// a set indexing the stored keys.
type DurableStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewDurableStore creates a new DurableStore. An empty prefix uses DefaultPrefix.
func NewDurableStore(client goredis.UniversalClient, prefix string) *DurableStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &DurableStore{client: client, prefix: prefix}
}

// Compile-time interface check.
var _ storage.DurableStore = (*DurableStore)(nil)

func (s *DurableStore) indexKey() string {
	return s.prefix + "__keys"
}

// Get returns the value stored under key. Returns ErrNotFound if not exists.
func (s *DurableStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return value, nil
}

// Set stores value under key. An OOM reply maps to ErrCapacityExceeded.
func (s *DurableStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		if isOOM(err) {
			return storage.ErrCapacityExceeded
		}
		return fmt.Errorf("set cache entry: %w", err)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), key).Err(); err != nil {
		if isOOM(err) {
			return storage.ErrCapacityExceeded
		}
		return fmt.Errorf("index cache entry: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *DurableStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.prefix+key)
		pipe.SRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Keys returns every indexed key.
func (s *DurableStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	return keys, nil
}

// isOOM checks if error is a Redis maxmemory rejection.
func isOOM(err error) bool {
	var redisErr goredis.Error
	if errors.As(err, &redisErr) {
		return strings.HasPrefix(redisErr.Error(), "OOM")
	}
	return false
}
