// Package normalize converts raw exchange fills into USD-denominated
// volume contributions bucketed by UTC day.
package normalize

import (
	"context"
	"errors"
	"fmt"

	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/observability"
	"exchange-volume-tracker/internal/pricing"
)

// Normalizer converts fills to volume contributions using an oracle to
// resolve non-USD quote assets.
type Normalizer struct {
	oracle pricing.Oracle
}

// New creates a Normalizer backed by the given oracle.
func New(oracle pricing.Oracle) *Normalizer {
	return &Normalizer{oracle: oracle}
}

// Normalize converts one fill to a volume contribution. USD notional is
// price times quantity times the quote asset's USD rate at execution
// time. Fails with a wrapped pricing.ErrPriceUnavailable when the rate
// cannot be resolved; callers skip such fills and count them.
func (n *Normalizer) Normalize(ctx context.Context, fill domain.RawFill) (domain.VolumeContribution, error) {
	rate, err := n.oracle.HistoricalRate(ctx, fill.QuoteAsset, fill.ExecutedAt)
	if err != nil {
		return domain.VolumeContribution{}, fmt.Errorf("normalize %s fill %s: %w", fill.Exchange, fill.FillID, err)
	}
	return domain.VolumeContribution{
		Exchange:    fill.Exchange,
		Market:      fill.Market,
		Day:         domain.DayOf(fill.ExecutedAt),
		USDNotional: fill.Price * fill.Quantity * rate,
		FillID:      fill.FillID,
	}, nil
}

// NormalizeAll converts a batch of fills, returning the successful
// contributions and the count of fills skipped for missing prices.
// Any other failure aborts the batch.
func (n *Normalizer) NormalizeAll(ctx context.Context, fills []domain.RawFill) ([]domain.VolumeContribution, int, error) {
	contribs := make([]domain.VolumeContribution, 0, len(fills))
	skipped := 0
	for _, fill := range fills {
		contrib, err := n.Normalize(ctx, fill)
		if err != nil {
			if errors.Is(err, pricing.ErrPriceUnavailable) {
				skipped++
				observability.RecordPriceMiss(fill.QuoteAsset)
				continue
			}
			return nil, skipped, err
		}
		contribs = append(contribs, contrib)
	}
	observability.DefaultMetrics.FillsNormalized.Add(float64(len(contribs)))
	return contribs, skipped, nil
}
