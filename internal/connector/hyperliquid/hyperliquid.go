// Package hyperliquid fetches executed fills from the Hyperliquid info
// API. All queries are POSTs to /info; personal fills come from the
// userFillsByTime request type, keyed by the account's wallet address.
//
// The endpoint returns at most one page of fills per call and has no
// cursor token, so pagination advances the window start past the last
// returned fill time.
package hyperliquid

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/domain"
)

// Name is the connector identifier used in config, storage and metrics.
const Name = "hyperliquid"

const (
	infoPath = "/info"

	// The info API caps userFillsByTime responses at 2000 fills.
	defaultPageSize = 2000
	maxPages        = 200
)

// Connector implements connector.Connector for Hyperliquid.
type Connector struct {
	client   *connector.Client
	markets  []string
	pageSize int
	now      func() time.Time
}

// Option configures a Connector.
type Option func(*Connector)

// WithPageSize overrides the full-page threshold used to detect that
// more fills remain.
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

// New creates a Hyperliquid connector fetching fills for the given
// coins. An empty markets list keeps every fill on the account.
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

// Markets returns the configured coins.
func (c *Connector) Markets() []string { return c.markets }

type userFillsRequest struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

type fillRow struct {
	Coin     string `json:"coin"`
	Px       string `json:"px"`
	Sz       string `json:"sz"`
	Side     string `json:"side"` // "B" bid, "A" ask
	Time     int64  `json:"time"`
	Fee      string `json:"fee"`
	FeeToken string `json:"feeToken"`
	TID      int64  `json:"tid"`
}

// FetchRecentFills drains the account's fills from since until now and
// keeps those on the configured coins.
func (c *Connector) FetchRecentFills(ctx context.Context, cred *domain.Credential, since time.Time) ([]domain.RawFill, error) {
	end := c.now()
	var fills []domain.RawFill
	cursor := ""
	for page := 0; ; page++ {
		if page == maxPages {
			return nil, fmt.Errorf("%s: window not drained after %d pages: %w", Name, maxPages, connector.ErrPageLimit)
		}
		pageFills, next, err := c.fetchWindow(ctx, cred, since, end, cursor)
		if err != nil {
			return nil, err
		}
		for _, f := range pageFills {
			if c.keeps(f.Market) {
				fills = append(fills, f)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return fills, nil
}

// FetchFillsPage fetches one window of account fills inside [start, end)
// and keeps those on the given coin. The cursor is the millisecond
// timestamp to resume the window from, empty when no fills remain.
func (c *Connector) FetchFillsPage(ctx context.Context, cred *domain.Credential, market string, start, end time.Time, cursor string) ([]domain.RawFill, string, error) {
	pageFills, next, err := c.fetchWindow(ctx, cred, start, end, cursor)
	if err != nil {
		return nil, "", err
	}
	fills := make([]domain.RawFill, 0, len(pageFills))
	for _, f := range pageFills {
		if market == "" || f.Market == market {
			fills = append(fills, f)
		}
	}
	return fills, next, nil
}

func (c *Connector) fetchWindow(ctx context.Context, cred *domain.Credential, start, end time.Time, cursor string) ([]domain.RawFill, string, error) {
	if cred.WalletAddress == "" {
		return nil, "", fmt.Errorf("hyperliquid: missing wallet address: %w", connector.ErrAuth)
	}
	startMs := start.UnixMilli()
	if cursor != "" {
		ms, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("hyperliquid: bad cursor %q: %w", cursor, connector.ErrMalformedResponse)
		}
		startMs = ms
	}

	var rows []fillRow
	req := connector.Request{
		Method: http.MethodPost,
		Path:   infoPath,
		Body: userFillsRequest{
			Type:      "userFillsByTime",
			User:      cred.WalletAddress,
			StartTime: startMs,
			EndTime:   end.UnixMilli(),
		},
	}
	if err := c.client.Do(ctx, req, &rows); err != nil {
		return nil, "", err
	}

	fills := make([]domain.RawFill, 0, len(rows))
	for _, row := range rows {
		fill, err := convertRow(row)
		if err != nil {
			return nil, "", err
		}
		fills = append(fills, fill)
	}

	next := ""
	if len(rows) >= c.pageSize {
		next = strconv.FormatInt(rows[len(rows)-1].Time+1, 10)
	}
	return fills, next, nil
}

func (c *Connector) keeps(coin string) bool {
	if len(c.markets) == 0 {
		return true
	}
	for _, m := range c.markets {
		if m == coin {
			return true
		}
	}
	return false
}

func convertRow(row fillRow) (domain.RawFill, error) {
	price, err := strconv.ParseFloat(row.Px, 64)
	if err != nil {
		return domain.RawFill{}, fmt.Errorf("hyperliquid: fill %d: bad px %q: %w", row.TID, row.Px, connector.ErrMalformedResponse)
	}
	size, err := strconv.ParseFloat(row.Sz, 64)
	if err != nil {
		return domain.RawFill{}, fmt.Errorf("hyperliquid: fill %d: bad sz %q: %w", row.TID, row.Sz, connector.ErrMalformedResponse)
	}
	fee, _ := strconv.ParseFloat(row.Fee, 64)
	side := domain.FillSideBuy
	if strings.EqualFold(row.Side, "A") {
		side = domain.FillSideSell
	}
	return domain.RawFill{
		Exchange:   Name,
		Market:     row.Coin,
		Price:      price,
		Quantity:   size,
		Side:       side,
		QuoteAsset: "USDC",
		ExecutedAt: time.UnixMilli(row.Time).UTC(),
		FeeAsset:   row.FeeToken,
		FeeAmount:  fee,
		FillID:     strconv.FormatInt(row.TID, 10),
	}, nil
}
