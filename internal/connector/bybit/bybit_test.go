package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/ratelimit"
)

var testCred = &domain.Credential{APIKey: "key-1", APISecret: "secret-1"}

func newTestConnector(t *testing.T, handler http.Handler, markets []string, opts ...Option) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	reg := ratelimit.NewRegistry()
	reg.Configure(Name, 1000, 1000)
	client := connector.NewClient(Name, srv.URL, reg, connector.WithMaxRetries(0))
	return New(client, markets, opts...)
}

func executionsJSON(t *testing.T, retCode int, retMsg, nextCursor string, rows ...executionRow) []byte {
	t.Helper()
	resp := executionListResponse{RetCode: retCode, RetMsg: retMsg}
	resp.Result.List = rows
	resp.Result.NextPageCursor = nextCursor
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFetchRecentFillsPaginates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != executionListPath {
			t.Errorf("path = %s, want %s", r.URL.Path, executionListPath)
		}
		if got := r.URL.Query().Get("category"); got != "linear" {
			t.Errorf("category = %s, want linear", got)
		}
		switch r.URL.Query().Get("cursor") {
		case "":
			w.Write(executionsJSON(t, 0, "OK", "cur-2",
				executionRow{ExecID: "e1", Symbol: "BTCUSDT", Side: "Buy", ExecPrice: "60000", ExecQty: "0.1", ExecTime: "1717200000000"}))
		case "cur-2":
			w.Write(executionsJSON(t, 0, "OK", "",
				executionRow{ExecID: "e2", Symbol: "BTCUSDT", Side: "Sell", ExecPrice: "61000", ExecQty: "0.2", ExecTime: "1717203600000"}))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})
	c := newTestConnector(t, handler, []string{"BTCUSDT"})

	fills, err := c.FetchRecentFills(context.Background(), testCred, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("FetchRecentFills() error = %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("len(fills) = %d, want 2", len(fills))
	}
	if fills[0].FillID != "e1" || fills[0].Side != domain.FillSideBuy || fills[0].QuoteAsset != "USDT" {
		t.Errorf("fills[0] = %+v", fills[0])
	}
	if fills[1].Side != domain.FillSideSell {
		t.Errorf("fills[1].Side = %s, want sell", fills[1].Side)
	}
}

func TestSignatureHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-BAPI-API-KEY"); got != "key-1" {
			t.Errorf("X-BAPI-API-KEY = %q", got)
		}
		ts := r.Header.Get("X-BAPI-TIMESTAMP")
		if ts == "" {
			t.Error("missing X-BAPI-TIMESTAMP")
		}
		mac := hmac.New(sha256.New, []byte("secret-1"))
		mac.Write([]byte(ts + "key-1" + recvWindow + r.URL.RawQuery))
		want := hex.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("X-BAPI-SIGN"); got != want {
			t.Errorf("X-BAPI-SIGN = %q, want %q", got, want)
		}
		w.Write(executionsJSON(t, 0, "OK", ""))
	})
	c := newTestConnector(t, handler, []string{"BTCUSDT"})

	if _, err := c.FetchRecentFills(context.Background(), testCred, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("FetchRecentFills() error = %v", err)
	}
}

func TestAuthRetCode(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(executionsJSON(t, 10004, "error sign", ""))
	})
	c := newTestConnector(t, handler, []string{"BTCUSDT"})

	_, _, err := c.FetchFillsPage(context.Background(), testCred, "BTCUSDT", time.Now().Add(-time.Hour), time.Now(), "")
	if !errors.Is(err, connector.ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}

func TestCategorySelection(t *testing.T) {
	cases := []struct {
		symbol string
		want   string
	}{
		{"BTCUSDT", "linear"},
		{"ETHUSDC", "linear"},
		{"BTCUSD", "inverse"},
	}
	for _, tc := range cases {
		if got := category(tc.symbol); got != tc.want {
			t.Errorf("category(%s) = %s, want %s", tc.symbol, got, tc.want)
		}
	}
}

func TestFetchRecentFillsRefusesUndrainableWindow(t *testing.T) {
	fixed := time.UnixMilli(1717300000000).UTC()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("endTime"); got != "1717300000000" {
			t.Errorf("endTime = %q, want 1717300000000", got)
		}
		w.Write(executionsJSON(t, 0, "OK", "cursor-more",
			executionRow{ExecID: "e1", Symbol: "BTCUSDT", Side: "Buy", ExecPrice: "60000", ExecQty: "0.1", ExecTime: "1717200000000"}))
	})
	c := newTestConnector(t, handler, []string{"BTCUSDT"}, WithClock(func() time.Time { return fixed }))

	fills, err := c.FetchRecentFills(context.Background(), testCred, fixed.Add(-24*time.Hour))
	if !errors.Is(err, connector.ErrPageLimit) {
		t.Fatalf("FetchRecentFills() error = %v, want ErrPageLimit", err)
	}
	if fills != nil {
		t.Errorf("len(fills) = %d, want no partial window", len(fills))
	}
}
