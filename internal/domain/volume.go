package domain

import "time"

// DailyVolumeRecord is the persisted daily aggregate for one
// (exchange, market, day) bucket. Re-ingesting a fill id that is already
// part of the bucket must not change the total.
type DailyVolumeRecord struct {
	Exchange         string
	Market           string
	Day              Day
	TotalUSDNotional float64
	FillCount        int
	LastUpdatedAt    time.Time
}

// ExchangeVolume is one exchange's entry in a current-volume snapshot.
// A failed exchange carries Error and contributes zero to the total.
type ExchangeVolume struct {
	Exchange     string  `json:"exchange"`
	VolumeUSD24h float64 `json:"volume_usd_24h"`
	Fills        int     `json:"fills"`
	SkippedFills int     `json:"skipped_fills,omitempty"` // fills excluded for missing oracle prices
	Error        string  `json:"error,omitempty"`
}

// CurrentVolumeSnapshot is the cached rolling-window aggregate.
// Each refresh produces a whole new snapshot; snapshots are replaced,
// never merged.
type CurrentVolumeSnapshot struct {
	TotalUSD24h float64          `json:"total_usd_24h"`
	Exchanges   []ExchangeVolume `json:"exchanges"` // sorted lexicographically by exchange
	ComputedAt  time.Time        `json:"computed_at"`
}

// VolumePoint is one bucket of a historical volume series.
type VolumePoint struct {
	Bucket           Day     `json:"bucket"`
	TotalUSDNotional float64 `json:"total_usd_notional"`
}
