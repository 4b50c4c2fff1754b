// Package memory provides in-memory storage implementations mirroring
// the PostgreSQL semantics, used by unit tests and offline runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/storage"
)

type fillKey struct {
	exchange string
	market   string
	day      domain.Day
	fillID   string
}

type bucketKey struct {
	exchange string
	market   string
	day      domain.Day
}

// HistoricalStore is an in-memory implementation of storage.HistoricalStore.
type HistoricalStore struct {
	mu      sync.RWMutex
	fills   map[fillKey]float64
	updated map[bucketKey]time.Time
}

// NewHistoricalStore creates an empty in-memory historical store.
func NewHistoricalStore() *HistoricalStore {
	return &HistoricalStore{
		fills:   make(map[fillKey]float64),
		updated: make(map[bucketKey]time.Time),
	}
}

// Compile-time interface check.
var _ storage.HistoricalStore = (*HistoricalStore)(nil)

// UpsertDaily records contributions, ignoring fills already known.
func (s *HistoricalStore) UpsertDaily(_ context.Context, contribs []domain.VolumeContribution) (storage.UpsertStats, error) {
	var stats storage.UpsertStats

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, c := range contribs {
		if c.Exchange == "" || c.FillID == "" {
			return storage.UpsertStats{}, storage.ErrInvalidInput
		}
		k := fillKey{c.Exchange, c.Market, c.Day, c.FillID}
		if _, exists := s.fills[k]; exists {
			stats.Duplicates++
			continue
		}
		s.fills[k] = c.USDNotional
		s.updated[bucketKey{c.Exchange, c.Market, c.Day}] = now
		stats.Stored++
	}
	return stats, nil
}

// QueryRange retrieves daily records within [start, end] inclusive,
// recomputed from the stored fill set.
func (s *HistoricalStore) QueryRange(_ context.Context, start, end domain.Day) ([]*domain.DailyVolumeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[bucketKey]*domain.DailyVolumeRecord)
	for k, usd := range s.fills {
		if k.day.Before(start) || k.day.After(end) {
			continue
		}
		bk := bucketKey{k.exchange, k.market, k.day}
		rec, ok := buckets[bk]
		if !ok {
			rec = &domain.DailyVolumeRecord{
				Exchange:      k.exchange,
				Market:        k.market,
				Day:           k.day,
				LastUpdatedAt: s.updated[bk],
			}
			buckets[bk] = rec
		}
		rec.TotalUSDNotional += usd
		rec.FillCount++
	}

	records := make([]*domain.DailyVolumeRecord, 0, len(buckets))
	for _, rec := range buckets {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Day != records[j].Day {
			return records[i].Day.Before(records[j].Day)
		}
		if records[i].Exchange != records[j].Exchange {
			return records[i].Exchange < records[j].Exchange
		}
		return records[i].Market < records[j].Market
	})
	return records, nil
}
