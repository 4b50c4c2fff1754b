package connector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchange-volume-tracker/internal/ratelimit"
)

func testLimiter() *ratelimit.Registry {
	reg := ratelimit.NewRegistry()
	reg.Configure("test", 1000, 1000)
	return reg
}

func testClient(baseURL string) *Client {
	return NewClient("test", baseURL, testLimiter(),
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)
}

func TestClientRetriesRateLimitedThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := testClient(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &out)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !out.OK {
		t.Error("expected decoded response")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestClientDoesNotRetryAuthFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := testClient(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Do() error = %v, want ErrAuth", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", calls)
	}
}

func TestClientRetriesServerErrorUntilExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Do() error = %v, want ErrTransient", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial attempt plus 2 retries)", calls)
	}
}

func TestClientDoesNotRetryMalformedBody(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := testClient(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &out)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("Do() error = %v, want ErrMalformedResponse", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on malformed body)", calls)
	}
}

func TestClientResignsEveryAttempt(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var signed int
	req := Request{
		Method: http.MethodGet,
		Path:   "/x",
		Sign: func(r *http.Request) error {
			signed++
			return nil
		},
	}
	if err := testClient(srv.URL).Do(context.Background(), req, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if signed != 3 {
		t.Errorf("sign invocations = %d, want 3 (one per attempt)", signed)
	}
}
