package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"exchange-volume-tracker/internal/observability"
	"exchange-volume-tracker/internal/ratelimit"
)

// Default HTTP client configuration.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client is the HTTP transport shared by all exchange connectors. It
// acquires a rate-limiter slot before every request and retries only
// rate-limit (429) and transient failures, with capped exponential
// backoff. Auth and malformed-response failures surface immediately.
type Client struct {
	exchange    string
	baseURL     string
	client      *http.Client
	limiter     *ratelimit.Registry
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets the retry bound for retryable failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial backoff delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a connector HTTP client for one exchange.
func NewClient(exchange, baseURL string, limiter *ratelimit.Registry, opts ...ClientOption) *Client {
	c := &Client{
		exchange:    exchange,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     limiter,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one exchange API call. Sign, if set, runs on every
// attempt so timestamped signatures stay fresh across retries.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{} // JSON-encoded when non-nil
	Sign   func(req *http.Request) error
}

// Do issues the request, decoding a 2xx JSON body into out (when out is
// non-nil). Retryable failures are retried up to the configured bound;
// every attempt first acquires a rate-limiter slot.
func (c *Client) Do(ctx context.Context, r Request, out interface{}) error {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		waitStart := time.Now()
		if err := c.limiter.Acquire(ctx, c.exchange); err != nil {
			if errors.Is(err, ratelimit.ErrTimeout) {
				return fmt.Errorf("%s: %w", c.exchange, ErrRateLimitTimeout)
			}
			return err
		}
		observability.DefaultMetrics.RateLimitWait.WithLabelValues(c.exchange).Observe(time.Since(waitStart).Seconds())

		attemptStart := time.Now()
		retryable, err := c.attempt(ctx, r, body, out)
		observability.DefaultMetrics.RequestLatency.WithLabelValues(c.exchange).Observe(time.Since(attemptStart).Seconds())
		if err == nil {
			return nil
		}
		if !retryable {
			observability.RecordFetchError(c.exchange, errorType(err))
			return err
		}
		lastErr = err
	}

	observability.RecordFetchError(c.exchange, errorType(lastErr))
	return fmt.Errorf("%s: max retries exceeded: %w", c.exchange, lastErr)
}

// attempt performs a single HTTP exchange. The bool reports whether the
// failure may be retried.
func (c *Client) attempt(ctx context.Context, r Request, body []byte, out interface{}) (bool, error) {
	u := c.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u, reader)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if r.Sign != nil {
		if err := r.Sign(req); err != nil {
			return false, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("%s: %v: %w", c.exchange, err, ErrTransient)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return true, fmt.Errorf("%s: read response: %v: %w", c.exchange, err, ErrTransient)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("%s: status %d: %w", c.exchange, resp.StatusCode, ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("%s: %w", c.exchange, ErrRateLimited)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%s: status %d: %w", c.exchange, resp.StatusCode, ErrTransient)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%s: unexpected status %d: %w", c.exchange, resp.StatusCode, ErrMalformedResponse)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, fmt.Errorf("%s: decode response: %v: %w", c.exchange, err, ErrMalformedResponse)
		}
	}

	return false, nil
}
