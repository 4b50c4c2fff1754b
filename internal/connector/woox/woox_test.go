package woox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/ratelimit"
)

var testCred = &domain.Credential{APIKey: "key-1", APISecret: "secret-1"}

func newTestConnector(t *testing.T, handler http.Handler, opts ...Option) (*Connector, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	reg := ratelimit.NewRegistry()
	reg.Configure(Name, 1000, 1000)
	client := connector.NewClient(Name, srv.URL, reg, connector.WithMaxRetries(0))
	return New(client, []string{"PERP_BTC_USDT"}, opts...), srv
}

func tradesJSON(meta *tradesMeta, rows ...tradeRow) []byte {
	b, _ := json.Marshal(tradesResponse{Success: true, Rows: rows, Meta: meta})
	return b
}

func TestFetchRecentFillsPaginates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != recentTradesPath {
			t.Errorf("path = %s, want %s", r.URL.Path, recentTradesPath)
		}
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write(tradesJSON(&tradesMeta{CurrentPage: 1, TotalPage: 2},
				tradeRow{ID: 1, Side: "BUY", ExecutedPrice: 60000, ExecutedQuantity: 0.1, ExecutedTimestamp: "1717200000000"}))
		case "2":
			w.Write(tradesJSON(&tradesMeta{CurrentPage: 2, TotalPage: 2},
				tradeRow{ID: 2, Side: "SELL", ExecutedPrice: 61000, ExecutedQuantity: 0.2, ExecutedTimestamp: "1717203600.500"}))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})
	c, _ := newTestConnector(t, handler)

	fills, err := c.FetchRecentFills(context.Background(), testCred, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("FetchRecentFills() error = %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("len(fills) = %d, want 2", len(fills))
	}
	if fills[0].FillID != "1" || fills[0].Side != domain.FillSideBuy {
		t.Errorf("fills[0] = %+v", fills[0])
	}
	if fills[0].QuoteAsset != "USDT" {
		t.Errorf("QuoteAsset = %s, want USDT", fills[0].QuoteAsset)
	}
	if fills[1].Side != domain.FillSideSell {
		t.Errorf("fills[1].Side = %s, want sell", fills[1].Side)
	}
	want := time.UnixMilli(1717203600500).UTC()
	if !fills[1].ExecutedAt.Equal(want) {
		t.Errorf("fills[1].ExecutedAt = %v, want %v", fills[1].ExecutedAt, want)
	}
}

func TestFetchRecentFillsSignsRequest(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key-1" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		ts := r.Header.Get("x-api-timestamp")
		if ts == "" {
			t.Error("missing x-api-timestamp")
		}
		mac := hmac.New(sha256.New, []byte("secret-1"))
		fmt.Fprintf(mac, "%s|%s", r.URL.RawQuery, ts)
		want := hex.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("x-api-signature"); got != want {
			t.Errorf("x-api-signature = %q, want %q", got, want)
		}
		w.Write(tradesJSON(nil))
	})
	c, _ := newTestConnector(t, handler)

	if _, err := c.FetchRecentFills(context.Background(), testCred, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("FetchRecentFills() error = %v", err)
	}
}

func TestFetchFillsPageCursor(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != histTradesPath {
			t.Errorf("path = %s, want %s", r.URL.Path, histTradesPath)
		}
		switch r.URL.Query().Get("fromId") {
		case "":
			// full page of 2 means more pages follow
			w.Write(tradesJSON(nil,
				tradeRow{ID: 10, Side: "BUY", ExecutedPrice: 100, ExecutedQuantity: 1, ExecutedTimestamp: "1717200000000"},
				tradeRow{ID: 11, Side: "BUY", ExecutedPrice: 100, ExecutedQuantity: 1, ExecutedTimestamp: "1717200001000"}))
		case "11":
			w.Write(tradesJSON(nil,
				tradeRow{ID: 12, Side: "BUY", ExecutedPrice: 100, ExecutedQuantity: 1, ExecutedTimestamp: "1717200002000"}))
		default:
			t.Errorf("unexpected fromId %q", r.URL.Query().Get("fromId"))
		}
	})
	c, _ := newTestConnector(t, handler, WithPageSize(2))

	start := time.UnixMilli(1717200000000)
	end := start.Add(time.Hour)

	fills, next, err := c.FetchFillsPage(context.Background(), testCred, "PERP_BTC_USDT", start, end, "")
	if err != nil {
		t.Fatalf("FetchFillsPage() error = %v", err)
	}
	if len(fills) != 2 || next != "11" {
		t.Fatalf("page 1: len=%d next=%q, want len=2 next=11", len(fills), next)
	}

	fills, next, err = c.FetchFillsPage(context.Background(), testCred, "PERP_BTC_USDT", start, end, next)
	if err != nil {
		t.Fatalf("FetchFillsPage() error = %v", err)
	}
	if len(fills) != 1 || next != "" {
		t.Fatalf("page 2: len=%d next=%q, want len=1 next=\"\"", len(fills), next)
	}
}

func TestFetchRecentFillsAPIError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tradesResponse{Success: false, Message: "invalid symbol"})
	})
	c, _ := newTestConnector(t, handler)

	_, err := c.FetchRecentFills(context.Background(), testCred, time.Now().Add(-time.Hour))
	if err == nil {
		t.Fatal("expected error for success=false response")
	}
}

func TestFetchRecentFillsRefusesUndrainableWindow(t *testing.T) {
	fixed := time.UnixMilli(1717300000000).UTC()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("end_t"); got != "1717300000000" {
			t.Errorf("end_t = %q, want 1717300000000", got)
		}
		w.Write(tradesJSON(&tradesMeta{CurrentPage: 1, TotalPage: maxPages + 50},
			tradeRow{ID: 1, Side: "BUY", ExecutedPrice: 60000, ExecutedQuantity: 0.1, ExecutedTimestamp: "1717200000000"}))
	})
	c, _ := newTestConnector(t, handler, WithClock(func() time.Time { return fixed }))

	fills, err := c.FetchRecentFills(context.Background(), testCred, fixed.Add(-24*time.Hour))
	if !errors.Is(err, connector.ErrPageLimit) {
		t.Fatalf("FetchRecentFills() error = %v, want ErrPageLimit", err)
	}
	if fills != nil {
		t.Errorf("len(fills) = %d, want no partial window", len(fills))
	}
}
