package memory

import (
	"context"
	"sync"

	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/storage"
)

type pairKey struct {
	exchange string
	market   string
}

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[pairKey]*domain.BackfillCursor
}

// NewCursorStore creates an empty in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[pairKey]*domain.BackfillCursor)}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// GetCursor returns a copy of the cursor for the pair.
func (s *CursorStore) GetCursor(_ context.Context, exchange, market string) (*domain.BackfillCursor, error) {
	if exchange == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.cursors[pairKey{exchange, market}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// SaveCursor inserts or replaces the cursor for its pair.
func (s *CursorStore) SaveCursor(_ context.Context, c *domain.BackfillCursor) error {
	if c == nil || c.Exchange == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	s.cursors[pairKey{c.Exchange, c.Market}] = &copy
	return nil
}
