package storage

import (
	"context"

	"exchange-volume-tracker/internal/domain"
)

// UpsertStats reports the outcome of one UpsertDaily call.
type UpsertStats struct {
	// Stored is the number of fills recorded for the first time.
	Stored int
	// Duplicates is the number of fills already known; their buckets
	// are left unchanged.
	Duplicates int
}

// HistoricalStore provides access to per-day volume storage.
type HistoricalStore interface {
	// UpsertDaily records normalized fill contributions. Idempotent by
	// (exchange, market, day, fill_id): re-ingesting a known fill never
	// inflates its bucket, and each touched bucket's total is recomputed
	// from the full set of known fills.
	UpsertDaily(ctx context.Context, contribs []domain.VolumeContribution) (UpsertStats, error)

	// QueryRange retrieves daily records with day within [start, end]
	// (inclusive), ordered by day ASC, then exchange, then market.
	QueryRange(ctx context.Context, start, end domain.Day) ([]*domain.DailyVolumeRecord, error)
}

// CursorStore provides access to backfill progress storage.
type CursorStore interface {
	// GetCursor retrieves the cursor for an (exchange, market) pair.
	// Returns ErrNotFound if no backfill has touched the pair.
	GetCursor(ctx context.Context, exchange, market string) (*domain.BackfillCursor, error)

	// SaveCursor inserts or replaces the cursor for its pair.
	SaveCursor(ctx context.Context, c *domain.BackfillCursor) error
}

// AnalyticsStore mirrors finalized daily records into an append-oriented
// backend for long-range queries. Unlike HistoricalStore it has no
// per-fill idempotency; the backend deduplicates whole rows.
type AnalyticsStore interface {
	// InsertDaily appends daily records.
	InsertDaily(ctx context.Context, records []*domain.DailyVolumeRecord) error

	// QueryRange retrieves daily records with day within [start, end]
	// (inclusive), ordered by day ASC, then exchange, then market.
	QueryRange(ctx context.Context, start, end domain.Day) ([]*domain.DailyVolumeRecord, error)
}
