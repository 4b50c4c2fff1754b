// Package pricing resolves quote assets to USD conversion rates.
package pricing

import (
	"context"
	"errors"
	"time"
)

// ErrPriceUnavailable is returned when no USD rate can be resolved for
// an asset at the requested time. Fills priced in that asset are
// skipped, never silently counted at a guessed rate.
var ErrPriceUnavailable = errors.New("price unavailable")

// Oracle resolves the USD rate of one unit of an asset at a point in
// time. USD-equivalent assets always resolve to 1.0.
type Oracle interface {
	HistoricalRate(ctx context.Context, asset string, at time.Time) (float64, error)
}
