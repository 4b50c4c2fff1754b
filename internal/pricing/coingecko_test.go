package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/ratelimit"
)

func newTestOracle(t *testing.T, handler http.Handler, opts ...CoinGeckoOption) *CoinGecko {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	reg := ratelimit.NewRegistry()
	reg.Configure("coingecko", 1000, 1000)
	client := connector.NewClient("coingecko", srv.URL, reg, connector.WithMaxRetries(0))
	return NewCoinGecko(client, opts...)
}

func TestHistoricalRateUSDShortCircuit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("USD-equivalent assets must not hit the API")
	})
	g := newTestOracle(t, handler)

	for _, asset := range []string{"USD", "USDT", "USDC", "usd"} {
		rate, err := g.HistoricalRate(context.Background(), asset, time.Now())
		if err != nil {
			t.Fatalf("HistoricalRate(%s) error = %v", asset, err)
		}
		if rate != 1.0 {
			t.Errorf("HistoricalRate(%s) = %v, want 1.0", asset, rate)
		}
	}
}

func TestHistoricalRateCachesPerDay(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/coins/bitcoin/history" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("date"); got != "01-06-2024" {
			t.Errorf("date = %s, want 01-06-2024", got)
		}
		w.Write([]byte(`{"market_data":{"current_price":{"usd":67000.5}}}`))
	})
	g := newTestOracle(t, handler)

	at := time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rate, err := g.HistoricalRate(context.Background(), "BTC", at)
		if err != nil {
			t.Fatalf("HistoricalRate() error = %v", err)
		}
		if rate != 67000.5 {
			t.Errorf("rate = %v, want 67000.5", rate)
		}
	}
	if calls != 1 {
		t.Errorf("API calls = %d, want 1 (per-day memo)", calls)
	}
}

func TestHistoricalRateUnknownAsset(t *testing.T) {
	g := newTestOracle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := g.HistoricalRate(context.Background(), "OBSCURECOIN", time.Now())
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("error = %v, want ErrPriceUnavailable", err)
	}
}

func TestHistoricalRateStaleCacheOnFetchFailure(t *testing.T) {
	var fail bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"market_data":{"current_price":{"usd":3000}}}`))
	})
	now := time.Now()
	g := newTestOracle(t, handler,
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }))

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := g.HistoricalRate(context.Background(), "ETH", at); err != nil {
		t.Fatalf("warm-up fetch error = %v", err)
	}

	fail = true
	now = now.Add(2 * time.Minute) // expire the memo
	rate, err := g.HistoricalRate(context.Background(), "ETH", at)
	if err != nil {
		t.Fatalf("HistoricalRate() error = %v, want stale-cache fallback", err)
	}
	if rate != 3000 {
		t.Errorf("rate = %v, want stale 3000", rate)
	}
}

func TestHistoricalRateMissingMarketData(t *testing.T) {
	g := newTestOracle(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := g.HistoricalRate(context.Background(), "BTC", time.Now())
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("error = %v, want ErrPriceUnavailable", err)
	}
}
