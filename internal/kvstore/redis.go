// Package kvstore provides storage backends for burst coordination state.
//
// This file implements the Redis-backed store.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStore invoked", "addr_set", cfg.Addr != "", "db", cfg.DB)

	if cfg.Addr == "" {
		slog.Error("RedisStore address not set")
		return nil, fmt.Errorf("redis address not set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("RedisStore ping failed", "error", err, "addr", cfg.Addr)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Debug("RedisStore connected", "addr", cfg.Addr)

	return &RedisStore{client: client}, nil
}

// GetJSON reads and unmarshals the value at key into v.
func (s *RedisStore) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		slog.Error("RedisStore.GetJSON: get failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Error("RedisStore.GetJSON: unmarshal failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to unmarshal value at key %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and writes it at key with the given TTL.
func (s *RedisStore) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("RedisStore.SetJSON: marshal failed", "error", err, "key", key)
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Error("RedisStore.SetJSON: set failed", "error", err, "key", key)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	slog.Debug("RedisStore.SetJSON succeeded", "key", key, "ttl", ttl)
	return nil
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		slog.Error("RedisStore.Delete: del failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	slog.Debug("RedisStore.Delete succeeded", "key", key)
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
