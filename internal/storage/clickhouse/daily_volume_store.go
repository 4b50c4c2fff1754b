package clickhouse

import (
	"context"
	"fmt"
	"time"

	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/storage"
)

// DailyVolumeStore implements storage.AnalyticsStore using ClickHouse.
// Rows land in a ReplacingMergeTree keyed by (exchange, market, day),
// so re-mirroring a bucket replaces the previous row at merge time.
type DailyVolumeStore struct {
	conn *Conn
}

// NewDailyVolumeStore creates a new ClickHouse daily volume store.
func NewDailyVolumeStore(conn *Conn) *DailyVolumeStore {
	return &DailyVolumeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AnalyticsStore = (*DailyVolumeStore)(nil)

// InsertDaily appends daily records as one batch.
func (s *DailyVolumeStore) InsertDaily(ctx context.Context, records []*domain.DailyVolumeRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO daily_volumes (
			exchange, market, day, total_usd_notional, fill_count, last_updated_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, rec := range records {
		if rec == nil || rec.Exchange == "" {
			return storage.ErrInvalidInput
		}
		err := batch.Append(
			rec.Exchange,
			rec.Market,
			rec.Day.Time(),
			rec.TotalUSDNotional,
			uint64(rec.FillCount),
			rec.LastUpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("append record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// QueryRange retrieves daily records with day within [start, end]
// inclusive. FINAL collapses superseded rows from re-mirrored buckets.
func (s *DailyVolumeStore) QueryRange(ctx context.Context, start, end domain.Day) ([]*domain.DailyVolumeRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT exchange, market, day, total_usd_notional, fill_count, last_updated_at
		FROM daily_volumes FINAL
		WHERE day >= ? AND day <= ?
		ORDER BY day ASC, exchange ASC, market ASC
	`, start.Time(), end.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DailyVolumeRecord
	for rows.Next() {
		var rec domain.DailyVolumeRecord
		var day, updated time.Time
		var fillCount uint64
		if err := rows.Scan(&rec.Exchange, &rec.Market, &day, &rec.TotalUSDNotional, &fillCount, &updated); err != nil {
			return nil, err
		}
		rec.Day = domain.DayOf(day)
		rec.FillCount = int(fillCount)
		rec.LastUpdatedAt = updated.UTC()
		records = append(records, &rec)
	}

	return records, rows.Err()
}
