// Package cache stores current-volume snapshots with a TTL so refresh
// bursts hit memory instead of exchange APIs.
package cache

import (
	"context"
	"errors"
	"time"

	"exchange-volume-tracker/internal/domain"
)

// ErrMiss is returned when no fresh snapshot exists for a key.
var ErrMiss = errors.New("cache miss")

// Cache stores whole snapshots. Writes replace the previous value
// atomically; readers never observe a partially refreshed snapshot.
type Cache interface {
	// GetSnapshot returns the cached snapshot for key, or ErrMiss when
	// absent or expired.
	GetSnapshot(ctx context.Context, key string) (*domain.CurrentVolumeSnapshot, error)

	// SetSnapshot replaces the snapshot for key with the given TTL.
	SetSnapshot(ctx context.Context, key string, snap *domain.CurrentVolumeSnapshot, ttl time.Duration) error
}
