package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"exchange-volume-tracker/internal/connector"
)

// DefaultCoinGeckoURL is the public CoinGecko v3 API endpoint.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

const defaultCacheTTL = 5 * time.Minute

// coinIDs maps asset symbols to CoinGecko coin ids. Assets not listed
// here and not USD-equivalent resolve to ErrPriceUnavailable.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"USDT": "tether",
	"USDC": "usd-coin",
}

type cachedRate struct {
	rate      float64
	fetchedAt time.Time
}

// CoinGecko resolves historical USD rates from the CoinGecko
// /coins/{id}/history endpoint, memoized per (asset, day) with a TTL.
type CoinGecko struct {
	client *connector.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedRate
}

// CoinGeckoOption configures a CoinGecko oracle.
type CoinGeckoOption func(*CoinGecko)

// WithCacheTTL overrides the memo TTL.
func WithCacheTTL(ttl time.Duration) CoinGeckoOption {
	return func(g *CoinGecko) {
		g.ttl = ttl
	}
}

// WithClock overrides the cache expiry clock.
func WithClock(now func() time.Time) CoinGeckoOption {
	return func(g *CoinGecko) {
		g.now = now
	}
}

// NewCoinGecko creates a CoinGecko-backed oracle.
func NewCoinGecko(client *connector.Client, opts ...CoinGeckoOption) *CoinGecko {
	g := &CoinGecko{
		client: client,
		ttl:    defaultCacheTTL,
		now:    time.Now,
		cache:  make(map[string]cachedRate),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Oracle = (*CoinGecko)(nil)

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

// HistoricalRate returns the USD rate of the asset on the UTC day of
// at. USD-equivalent assets short-circuit to 1.0 without a lookup.
func (g *CoinGecko) HistoricalRate(ctx context.Context, asset string, at time.Time) (float64, error) {
	upper := strings.ToUpper(asset)
	if strings.Contains(upper, "USD") {
		return 1.0, nil
	}
	id, ok := coinIDs[upper]
	if !ok {
		return 0, fmt.Errorf("no coin id for asset %q: %w", asset, ErrPriceUnavailable)
	}

	day := at.UTC().Format("02-01-2006")
	key := id + "@" + day

	g.mu.Lock()
	entry, hit := g.cache[key]
	g.mu.Unlock()
	if hit && g.now().Sub(entry.fetchedAt) < g.ttl {
		return entry.rate, nil
	}

	var resp historyResponse
	req := connector.Request{
		Method: http.MethodGet,
		Path:   "/coins/" + id + "/history",
		Query: url.Values{
			"date":         {day},
			"localization": {"false"},
		},
	}
	if err := g.client.Do(ctx, req, &resp); err != nil {
		// a stale cached rate beats dropping the fill
		if hit {
			return entry.rate, nil
		}
		return 0, fmt.Errorf("coingecko history for %s: %v: %w", asset, err, ErrPriceUnavailable)
	}
	if resp.MarketData == nil {
		return 0, fmt.Errorf("no market data for %s on %s: %w", asset, day, ErrPriceUnavailable)
	}
	rate, ok := resp.MarketData.CurrentPrice["usd"]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no usd price for %s on %s: %w", asset, day, ErrPriceUnavailable)
	}

	g.mu.Lock()
	g.cache[key] = cachedRate{rate: rate, fetchedAt: g.now()}
	g.mu.Unlock()
	return rate, nil
}
