package postgres

import (
	"context"

	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/storage"
)

// CursorStore is a PostgreSQL implementation of storage.CursorStore.
// One row per (exchange, market) in backfill_cursors.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new PostgreSQL cursor store.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// GetCursor retrieves the cursor for an (exchange, market) pair.
func (s *CursorStore) GetCursor(ctx context.Context, exchange, market string) (*domain.BackfillCursor, error) {
	if exchange == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT exchange, market, cursor, window_start, window_end, status, pages_done, updated_at
		FROM backfill_cursors
		WHERE exchange = $1 AND market = $2
	`, exchange, market)

	var c domain.BackfillCursor
	err := row.Scan(&c.Exchange, &c.Market, &c.Cursor, &c.WindowStart, &c.WindowEnd, &c.Status, &c.PagesDone, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	c.WindowStart = c.WindowStart.UTC()
	c.WindowEnd = c.WindowEnd.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	return &c, nil
}

// SaveCursor inserts or replaces the cursor for its pair.
func (s *CursorStore) SaveCursor(ctx context.Context, c *domain.BackfillCursor) error {
	if c == nil || c.Exchange == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO backfill_cursors (exchange, market, cursor, window_start, window_end, status, pages_done, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (exchange, market) DO UPDATE
		SET cursor = EXCLUDED.cursor,
		    window_start = EXCLUDED.window_start,
		    window_end = EXCLUDED.window_end,
		    status = EXCLUDED.status,
		    pages_done = EXCLUDED.pages_done,
		    updated_at = NOW()
	`, c.Exchange, c.Market, c.Cursor, c.WindowStart, c.WindowEnd, c.Status, c.PagesDone)

	return err
}
