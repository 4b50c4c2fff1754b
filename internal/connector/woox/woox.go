// Package woox fetches executed trades from the WOO X private REST API.
//
// Recent fills come from /v1/client/trades (page-numbered pagination,
// bounded by the exchange's three month retention on that endpoint).
// Backfill uses /v1/client/hist_trades, which paginates with a fromId
// cursor pointing at the last trade of the previous page.
package woox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
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
const Name = "woox"

const (
	recentTradesPath = "/v1/client/trades"
	histTradesPath   = "/v1/client/hist_trades"

	defaultPageSize = 100
	maxPages        = 200
)

// Connector implements connector.Connector for WOO X.
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

// WithClock overrides the signing timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) {
		c.now = now
	}
}

// New creates a WOO X connector fetching fills for the given markets.
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

// tradesResponse is the envelope shared by both trade endpoints.
type tradesResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Rows    []tradeRow  `json:"rows"`
	Meta    *tradesMeta `json:"meta"`
}

type tradesMeta struct {
	CurrentPage int `json:"current_page"`
	TotalPage   int `json:"total_page"`
}

type tradeRow struct {
	ID                int64       `json:"id"`
	Symbol            string      `json:"symbol"`
	Side              string      `json:"side"`
	ExecutedPrice     float64     `json:"executed_price"`
	ExecutedQuantity  float64     `json:"executed_quantity"`
	ExecutedTimestamp json.Number `json:"executed_timestamp"`
	Fee               float64     `json:"fee"`
	FeeAsset          string      `json:"fee_asset"`
}

// FetchRecentFills drains /v1/client/trades for every configured market
// from since until now.
func (c *Connector) FetchRecentFills(ctx context.Context, cred *domain.Credential, since time.Time) ([]domain.RawFill, error) {
	end := c.now()
	var fills []domain.RawFill
	for _, market := range c.markets {
		for page := 1; ; page++ {
			if page > maxPages {
				return nil, fmt.Errorf("%s: %s window not drained after %d pages: %w", Name, market, maxPages, connector.ErrPageLimit)
			}
			query := url.Values{
				"symbol":  {market},
				"start_t": {strconv.FormatInt(since.UnixMilli(), 10)},
				"end_t":   {strconv.FormatInt(end.UnixMilli(), 10)},
				"page":    {strconv.Itoa(page)},
				"size":    {strconv.Itoa(c.pageSize)},
			}
			resp, err := c.fetchPage(ctx, cred, recentTradesPath, query)
			if err != nil {
				return nil, err
			}
			pageFills, err := c.convertRows(market, resp.Rows)
			if err != nil {
				return nil, err
			}
			fills = append(fills, pageFills...)
			if len(resp.Rows) == 0 || resp.Meta == nil || resp.Meta.CurrentPage >= resp.Meta.TotalPage {
				break
			}
		}
	}
	return fills, nil
}

// FetchFillsPage fetches one page of /v1/client/hist_trades for the
// market inside [start, end). The returned cursor is the id of the last
// trade on the page, empty when the page was the last one.
func (c *Connector) FetchFillsPage(ctx context.Context, cred *domain.Credential, market string, start, end time.Time, cursor string) ([]domain.RawFill, string, error) {
	query := url.Values{
		"symbol":  {market},
		"start_t": {strconv.FormatInt(start.UnixMilli(), 10)},
		"end_t":   {strconv.FormatInt(end.UnixMilli(), 10)},
		"limit":   {strconv.Itoa(c.pageSize)},
	}
	if cursor != "" {
		query.Set("fromId", cursor)
	}
	resp, err := c.fetchPage(ctx, cred, histTradesPath, query)
	if err != nil {
		return nil, "", err
	}
	fills, err := c.convertRows(market, resp.Rows)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(resp.Rows) == c.pageSize {
		next = strconv.FormatInt(resp.Rows[len(resp.Rows)-1].ID, 10)
	}
	return fills, next, nil
}

func (c *Connector) fetchPage(ctx context.Context, cred *domain.Credential, path string, query url.Values) (*tradesResponse, error) {
	var resp tradesResponse
	req := connector.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Sign:   c.signer(cred),
	}
	if err := c.client.Do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("woox: api error %q: %w", resp.Message, connector.ErrMalformedResponse)
	}
	return &resp, nil
}

// signer produces the per-attempt request signer. WOO X signs
// sorted_query_string + "|" + timestamp_ms with HMAC-SHA256 over the
// API secret; url.Values.Encode already emits keys in sorted order.
func (c *Connector) signer(cred *domain.Credential) func(*http.Request) error {
	return func(req *http.Request) error {
		ts := strconv.FormatInt(c.now().UnixMilli(), 10)
		payload := req.URL.RawQuery + "|" + ts
		mac := hmac.New(sha256.New, []byte(cred.APISecret))
		mac.Write([]byte(payload))
		req.Header.Set("x-api-key", cred.APIKey)
		req.Header.Set("x-api-signature", hex.EncodeToString(mac.Sum(nil)))
		req.Header.Set("x-api-timestamp", ts)
		return nil
	}
}

func (c *Connector) convertRows(market string, rows []tradeRow) ([]domain.RawFill, error) {
	fills := make([]domain.RawFill, 0, len(rows))
	for _, row := range rows {
		executedAt, err := parseTimestamp(row.ExecutedTimestamp)
		if err != nil {
			return nil, fmt.Errorf("woox: trade %d: %v: %w", row.ID, err, connector.ErrMalformedResponse)
		}
		fills = append(fills, domain.RawFill{
			Exchange:   Name,
			Market:     market,
			Price:      row.ExecutedPrice,
			Quantity:   row.ExecutedQuantity,
			Side:       normalizeSide(row.Side),
			QuoteAsset: quoteAsset(market),
			ExecutedAt: executedAt,
			FeeAsset:   row.FeeAsset,
			FeeAmount:  row.Fee,
			FillID:     strconv.FormatInt(row.ID, 10),
		})
	}
	return fills, nil
}

// parseTimestamp accepts both the fractional-second form used by the v1
// API ("1717234567.123") and plain milliseconds.
func parseTimestamp(n json.Number) (time.Time, error) {
	s := n.String()
	if s == "" {
		return time.Time{}, fmt.Errorf("missing executed_timestamp")
	}
	f, err := n.Float64()
	if err != nil {
		return time.Time{}, fmt.Errorf("bad executed_timestamp %q", s)
	}
	if strings.Contains(s, ".") {
		// seconds with fractional part
		return time.UnixMilli(int64(f * 1000)).UTC(), nil
	}
	return time.UnixMilli(int64(f)).UTC(), nil
}

func normalizeSide(side string) string {
	if strings.EqualFold(side, "SELL") {
		return domain.FillSideSell
	}
	return domain.FillSideBuy
}

// quoteAsset extracts the quote asset from a WOO X symbol such as
// SPOT_BTC_USDT or PERP_ETH_USDC.
func quoteAsset(market string) string {
	parts := strings.Split(market, "_")
	return parts[len(parts)-1]
}
