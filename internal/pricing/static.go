package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Static resolves rates from a fixed table, for tests and offline runs.
type Static struct {
	rates map[string]float64
}

// NewStatic creates an oracle serving the given asset rates.
func NewStatic(rates map[string]float64) *Static {
	upper := make(map[string]float64, len(rates))
	for asset, rate := range rates {
		upper[strings.ToUpper(asset)] = rate
	}
	return &Static{rates: upper}
}

var _ Oracle = (*Static)(nil)

// HistoricalRate returns the configured rate for the asset, 1.0 for
// USD-equivalent assets, and ErrPriceUnavailable otherwise.
func (s *Static) HistoricalRate(_ context.Context, asset string, _ time.Time) (float64, error) {
	upper := strings.ToUpper(asset)
	if rate, ok := s.rates[upper]; ok {
		return rate, nil
	}
	if strings.Contains(upper, "USD") {
		return 1.0, nil
	}
	return 0, fmt.Errorf("no static rate for %q: %w", asset, ErrPriceUnavailable)
}
