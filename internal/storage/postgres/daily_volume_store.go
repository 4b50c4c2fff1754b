package postgres

import (
	"context"
	"fmt"
	"time"

	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/observability"
	"exchange-volume-tracker/internal/storage"
)

// DailyVolumeStore is a PostgreSQL implementation of storage.HistoricalStore.
// Uses two tables:
//   - ingested_fills: one row per (exchange, market, day, fill_id), the
//     idempotency ledger
//   - daily_volumes: one row per (exchange, market, day), recomputed
//     from ingested_fills whenever the bucket changes
type DailyVolumeStore struct {
	pool *Pool
}

// NewDailyVolumeStore creates a new PostgreSQL daily volume store.
func NewDailyVolumeStore(pool *Pool) *DailyVolumeStore {
	return &DailyVolumeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HistoricalStore = (*DailyVolumeStore)(nil)

// UpsertDaily records contributions and recomputes the touched buckets,
// all inside one transaction. Known fills are skipped, so re-ingesting
// a window never inflates totals.
func (s *DailyVolumeStore) UpsertDaily(ctx context.Context, contribs []domain.VolumeContribution) (stats storage.UpsertStats, err error) {
	started := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "upsert_daily", time.Since(started).Seconds(), err)
	}()

	if len(contribs) == 0 {
		return stats, nil
	}
	for _, c := range contribs {
		if c.Exchange == "" || c.FillID == "" {
			return stats, storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	type bucket struct {
		exchange string
		market   string
		day      domain.Day
	}
	touched := make(map[bucket]struct{})

	for _, c := range contribs {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ingested_fills (exchange, market, day, fill_id, usd_notional)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (exchange, market, day, fill_id) DO NOTHING
		`, c.Exchange, c.Market, c.Day.Time(), c.FillID, c.USDNotional)
		if err != nil {
			return stats, fmt.Errorf("insert fill %s/%s: %w", c.Exchange, c.FillID, err)
		}
		if tag.RowsAffected() == 0 {
			stats.Duplicates++
			continue
		}
		stats.Stored++
		touched[bucket{c.Exchange, c.Market, c.Day}] = struct{}{}
	}

	for b := range touched {
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_volumes (exchange, market, day, total_usd_notional, fill_count, last_updated_at)
			SELECT exchange, market, day, SUM(usd_notional), COUNT(*), NOW()
			FROM ingested_fills
			WHERE exchange = $1 AND market = $2 AND day = $3
			GROUP BY exchange, market, day
			ON CONFLICT (exchange, market, day) DO UPDATE
			SET total_usd_notional = EXCLUDED.total_usd_notional,
			    fill_count = EXCLUDED.fill_count,
			    last_updated_at = NOW()
		`, b.exchange, b.market, b.day.Time())
		if err != nil {
			return stats, fmt.Errorf("recompute bucket %s/%s/%s: %w", b.exchange, b.market, b.day, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit upsert tx: %w", err)
	}
	return stats, nil
}

// QueryRange retrieves daily records with day within [start, end] inclusive.
func (s *DailyVolumeStore) QueryRange(ctx context.Context, start, end domain.Day) (records []*domain.DailyVolumeRecord, err error) {
	started := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "query_range", time.Since(started).Seconds(), err)
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT exchange, market, day, total_usd_notional, fill_count, last_updated_at
		FROM daily_volumes
		WHERE day >= $1 AND day <= $2
		ORDER BY day ASC, exchange ASC, market ASC
	`, start.Time(), end.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.DailyVolumeRecord
		var day, updated time.Time
		if err := rows.Scan(&rec.Exchange, &rec.Market, &day, &rec.TotalUSDNotional, &rec.FillCount, &updated); err != nil {
			return nil, err
		}
		rec.Day = domain.DayOf(day)
		rec.LastUpdatedAt = updated.UTC()
		records = append(records, &rec)
	}

	return records, rows.Err()
}
