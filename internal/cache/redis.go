package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"exchange-volume-tracker/internal/domain"
)

// Redis is a Cache backed by a Redis instance, for deployments where
// several service replicas share one snapshot.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis cache from a redis:// URL.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Compile-time interface check.
var _ Cache = (*Redis)(nil)

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// GetSnapshot returns the cached snapshot for key.
func (r *Redis) GetSnapshot(ctx context.Context, key string) (*domain.CurrentVolumeSnapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var snap domain.CurrentVolumeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}

// SetSnapshot replaces the snapshot for key. Redis SET is atomic, so
// readers see either the old or the new snapshot, never a mix.
func (r *Redis) SetSnapshot(ctx context.Context, key string, snap *domain.CurrentVolumeSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
