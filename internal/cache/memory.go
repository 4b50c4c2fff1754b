package cache

import (
	"context"
	"sync"
	"time"

	"exchange-volume-tracker/internal/domain"
)

type memoryEntry struct {
	snap      domain.CurrentVolumeSnapshot
	expiresAt time.Time
}

// Memory is an in-process Cache backed by an RWMutex-guarded map.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Compile-time interface check.
var _ Cache = (*Memory)(nil)

// WithClock overrides the expiry clock, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// GetSnapshot returns a copy of the cached snapshot for key.
func (m *Memory) GetSnapshot(_ context.Context, key string) (*domain.CurrentVolumeSnapshot, error) {
	m.mu.RLock()
	entry, exists := m.entries[key]
	m.mu.RUnlock()

	if !exists || m.now().After(entry.expiresAt) {
		return nil, ErrMiss
	}

	snap := entry.snap
	snap.Exchanges = append([]domain.ExchangeVolume(nil), entry.snap.Exchanges...)
	return &snap, nil
}

// SetSnapshot replaces the snapshot for key.
func (m *Memory) SetSnapshot(_ context.Context, key string, snap *domain.CurrentVolumeSnapshot, ttl time.Duration) error {
	stored := *snap
	stored.Exchanges = append([]domain.ExchangeVolume(nil), snap.Exchanges...)

	m.mu.Lock()
	m.entries[key] = memoryEntry{snap: stored, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}
