// Package redisgrid persists decoded grids in Redis so they survive restarts
// and can be shared between replicas. A published GFS file never changes,
// so a stored grid stays valid until its run ages out.
package redisgrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
)

const keyPrefix = "gfs:grid:v1:"

// KV is the subset of Redis the store needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// CheckReadiness pings Redis.
func (r *RedisKV) CheckReadiness(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Store is a domain.GridFetcher that reads through Redis to an inner fetcher.
// Redis failures degrade to fetching from the inner fetcher.
type Store struct {
	inner   domain.GridFetcher
	kv      KV
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewStore creates a read-through store. Grids are kept for ttl.
func NewStore(inner domain.GridFetcher, kv KV, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Store {
	return &Store{inner: inner, kv: kv, ttl: ttl, metrics: metrics, logger: logger}
}

func (s *Store) Fetch(ctx context.Context, key domain.GridKey) (domain.Grid, error) {
	rk := redisKey(key)
	if grid, ok := s.load(ctx, rk, key); ok {
		return grid, nil
	}

	grid, err := s.inner.Fetch(ctx, key)
	if err != nil {
		return domain.Grid{}, err
	}

	data, err := json.Marshal(grid)
	if err != nil {
		s.logger.Warn("grid store encode failed", "key", rk, "error", err)
		return grid, nil
	}
	if err := s.kv.Set(ctx, rk, data, s.ttl); err != nil {
		s.logger.Warn("grid store write failed", "key", rk, "error", err)
	}
	return grid, nil
}

func (s *Store) load(ctx context.Context, rk string, key domain.GridKey) (domain.Grid, bool) {
	data, ok, err := s.kv.Get(ctx, rk)
	if err != nil {
		s.metrics.GridStore.WithLabelValues("error").Inc()
		s.logger.Warn("grid store read failed", "key", rk, "error", err)
		return domain.Grid{}, false
	}
	if !ok {
		s.metrics.GridStore.WithLabelValues("miss").Inc()
		return domain.Grid{}, false
	}

	var grid domain.Grid
	if err := json.Unmarshal(data, &grid); err != nil {
		s.metrics.GridStore.WithLabelValues("error").Inc()
		s.logger.Warn("grid store entry unreadable", "key", rk, "error", err)
		return domain.Grid{}, false
	}
	if !grid.Key.Run.Init.Equal(key.Run.Init) || grid.Key.LeadHour != key.LeadHour || grid.Key.BBox != key.BBox {
		s.metrics.GridStore.WithLabelValues("error").Inc()
		s.logger.Warn("grid store entry holds another key", "key", rk, "stored_key", grid.Key.String())
		return domain.Grid{}, false
	}
	s.metrics.GridStore.WithLabelValues("hit").Inc()
	return grid, true
}

func redisKey(key domain.GridKey) string {
	return keyPrefix + key.String()
}
