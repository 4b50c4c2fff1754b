// Package paradex fetches executed fills from the Paradex REST API.
//
// Both recent and historical fetches use /v1/account/list-fills, which
// paginates with an opaque cursor returned in the "next" field and
// authenticates with a bearer JWT.
package paradex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/domain"
)

// Name is the connector identifier used in config, storage and metrics.
const Name = "paradex"

const (
	listFillsPath = "/v1/account/list-fills"

	defaultPageSize = 500
	maxPages        = 200
)

// Connector implements connector.Connector for Paradex.
type Connector struct {
	client   *connector.Client
	markets  []string
	pageSize int
	now      func() time.Time
}

// Option configures a Connector.
type Option func(*Connector)

// WithPageSize overrides the per-request page size.
func WithPageSize(n int) Option {
	return func(c *Connector) {
		c.pageSize = n
	}
}

// WithClock overrides the time source used for the recent-fill window.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) {
		c.now = now
	}
}

// New creates a Paradex connector fetching fills for the given markets.
func New(client *connector.Client, markets []string, opts ...Option) *Connector {
	c := &Connector{
		client:   client,
		markets:  markets,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Name() string { return Name }

// Markets returns the configured exchange-native symbols.
func (c *Connector) Markets() []string { return c.markets }

type listFillsResponse struct {
	Results []fillRow `json:"results"`
	Next    string    `json:"next"`
}

type fillRow struct {
	ID          string `json:"id"`
	Market      string `json:"market"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"fee_currency"`
	CreatedAt   int64  `json:"created_at"`
}

// FetchRecentFills drains /v1/account/list-fills for every configured
// market from since until now.
func (c *Connector) FetchRecentFills(ctx context.Context, cred *domain.Credential, since time.Time) ([]domain.RawFill, error) {
	end := c.now()
	var fills []domain.RawFill
	for _, market := range c.markets {
		cursor := ""
		for page := 0; ; page++ {
			if page == maxPages {
				return nil, fmt.Errorf("%s: %s window not drained after %d pages: %w", Name, market, maxPages, connector.ErrPageLimit)
			}
			pageFills, next, err := c.FetchFillsPage(ctx, cred, market, since, end, cursor)
			if err != nil {
				return nil, err
			}
			fills = append(fills, pageFills...)
			if next == "" {
				break
			}
			cursor = next
		}
	}
	return fills, nil
}

// FetchFillsPage fetches one page of fills for the market inside
// [start, end). The returned cursor is Paradex's opaque "next" token,
// empty when the page was the last one.
func (c *Connector) FetchFillsPage(ctx context.Context, cred *domain.Credential, market string, start, end time.Time, cursor string) ([]domain.RawFill, string, error) {
	query := url.Values{
		"market":    {market},
		"start_at":  {strconv.FormatInt(start.UnixMilli(), 10)},
		"end_at":    {strconv.FormatInt(end.UnixMilli(), 10)},
		"page_size": {strconv.Itoa(c.pageSize)},
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp listFillsResponse
	req := connector.Request{
		Method: http.MethodGet,
		Path:   listFillsPath,
		Query:  query,
		Sign: func(r *http.Request) error {
			if cred.JWT == "" {
				return fmt.Errorf("paradex: missing jwt: %w", connector.ErrAuth)
			}
			r.Header.Set("Authorization", "Bearer "+cred.JWT)
			return nil
		},
	}
	if err := c.client.Do(ctx, req, &resp); err != nil {
		return nil, "", err
	}

	fills := make([]domain.RawFill, 0, len(resp.Results))
	for _, row := range resp.Results {
		price, err := strconv.ParseFloat(row.Price, 64)
		if err != nil {
			return nil, "", fmt.Errorf("paradex: fill %s: bad price %q: %w", row.ID, row.Price, connector.ErrMalformedResponse)
		}
		size, err := strconv.ParseFloat(row.Size, 64)
		if err != nil {
			return nil, "", fmt.Errorf("paradex: fill %s: bad size %q: %w", row.ID, row.Size, connector.ErrMalformedResponse)
		}
		fee, _ := strconv.ParseFloat(row.Fee, 64)
		fills = append(fills, domain.RawFill{
			Exchange:   Name,
			Market:     row.Market,
			Price:      price,
			Quantity:   size,
			Side:       normalizeSide(row.Side),
			QuoteAsset: quoteAsset(row.Market),
			ExecutedAt: time.UnixMilli(row.CreatedAt).UTC(),
			FeeAsset:   row.FeeCurrency,
			FeeAmount:  fee,
			FillID:     row.ID,
		})
	}
	return fills, resp.Next, nil
}

func normalizeSide(side string) string {
	if strings.EqualFold(side, "SELL") {
		return domain.FillSideSell
	}
	return domain.FillSideBuy
}

// quoteAsset extracts the quote asset from a Paradex symbol such as
// BTC-USD-PERP.
func quoteAsset(market string) string {
	parts := strings.Split(market, "-")
	if len(parts) >= 2 {
		return parts[1]
	}
	return "USD"
}
