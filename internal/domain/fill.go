package domain

import "time"

// RawFill is one executed trade leg as reported by an exchange.
// It exists only in flight between a connector and the normalizer;
// nothing persists raw fills.
type RawFill struct {
	Exchange   string  // connector name, e.g. "woox"
	Market     string  // exchange-native symbol, e.g. "PERP_BTC_USDT"
	Price      float64 // execution price in the quote asset
	Quantity   float64 // base asset quantity
	Side       string  // "buy" | "sell"
	QuoteAsset string  // asset the price is denominated in, e.g. "USDT"
	ExecutedAt time.Time
	FeeAsset   string
	FeeAmount  float64
	FillID     string // exchange-assigned fill id, unique per exchange
}

// Fill side constants
const (
	FillSideBuy  = "buy"
	FillSideSell = "sell"
)

// VolumeContribution is the canonical normalized unit of volume:
// one fill converted to USD notional and attributed to a UTC day.
type VolumeContribution struct {
	Exchange    string
	Market      string
	Day         Day
	USDNotional float64
	FillID      string // carried through for idempotent upserts
}
