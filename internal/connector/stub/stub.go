// Package stub provides a fixed in-memory connector for testing.
package stub

import (
	"context"
	"sort"
	"sync"
	"time"

	"exchange-volume-tracker/internal/domain"
)

// Connector serves fixed in-memory fills for testing. It records call
// counts and can be set to fail, so aggregation and backfill tests can
// exercise partial-failure paths without a live exchange.
// Implements connector.Connector.
type Connector struct {
	name     string
	fills    []domain.RawFill
	pageSize int

	mu sync.Mutex
	// Err, when set, is returned by every fetch.
	Err error
	// RecentCalls counts FetchRecentFills invocations.
	RecentCalls int
	// PageCalls counts FetchFillsPage invocations.
	PageCalls int
}

// New creates a stub connector serving the given fills.
func New(name string, fills []domain.RawFill) *Connector {
	return &Connector{name: name, fills: fills, pageSize: 2}
}

// WithPageSize sets how many fills each FetchFillsPage call returns.
func (c *Connector) WithPageSize(n int) *Connector {
	c.pageSize = n
	return c
}

func (c *Connector) Name() string { return c.name }

// Markets returns the distinct markets across the configured fills.
func (c *Connector) Markets() []string {
	seen := make(map[string]bool)
	var markets []string
	for _, f := range c.fills {
		if !seen[f.Market] {
			seen[f.Market] = true
			markets = append(markets, f.Market)
		}
	}
	sort.Strings(markets)
	return markets
}

// FetchRecentFills returns copies of the fills executed at or after
// since, stamped with the connector name.
func (c *Connector) FetchRecentFills(_ context.Context, _ *domain.Credential, since time.Time) ([]domain.RawFill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecentCalls++
	if c.Err != nil {
		return nil, c.Err
	}
	var result []domain.RawFill
	for _, f := range c.fills {
		if !f.ExecutedAt.Before(since) {
			f.Exchange = c.name
			result = append(result, f)
		}
	}
	return result, nil
}

// FetchFillsPage returns one page of fills for the market inside
// [start, end). The cursor is the fill id the previous page ended on.
func (c *Connector) FetchFillsPage(_ context.Context, _ *domain.Credential, market string, start, end time.Time, cursor string) ([]domain.RawFill, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PageCalls++
	if c.Err != nil {
		return nil, "", c.Err
	}

	var matching []domain.RawFill
	for _, f := range c.fills {
		if f.Market == market && !f.ExecutedAt.Before(start) && f.ExecutedAt.Before(end) {
			f.Exchange = c.name
			matching = append(matching, f)
		}
	}

	offset := 0
	if cursor != "" {
		for i := range matching {
			if matching[i].FillID == cursor {
				offset = i + 1
				break
			}
		}
	}
	if offset >= len(matching) {
		return nil, "", nil
	}

	pageEnd := offset + c.pageSize
	if pageEnd > len(matching) {
		pageEnd = len(matching)
	}
	page := matching[offset:pageEnd]

	next := ""
	if pageEnd < len(matching) {
		next = page[len(page)-1].FillID
	}
	return page, next, nil
}
