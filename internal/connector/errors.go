package connector

import "errors"

// Connector error taxonomy. Connectors wrap these sentinels so callers
// can classify failures with errors.Is without knowing the exchange.
var (
	// ErrAuth marks a bad or expired credential. Never retried; the
	// user must re-enter the credential.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited marks an exchange-side 429. Retried with capped
	// exponential backoff inside the connector before surfacing.
	ErrRateLimited = errors.New("rate limited by exchange")

	// ErrRateLimitTimeout marks a local token-bucket wait that exceeded
	// the caller's deadline.
	ErrRateLimitTimeout = errors.New("rate limit timeout")

	// ErrTransient marks a network failure or 5xx. Retried like
	// ErrRateLimited.
	ErrTransient = errors.New("transient network error")

	// ErrMalformedResponse marks a response the connector cannot
	// decode, usually an exchange schema change. Never retried.
	ErrMalformedResponse = errors.New("malformed exchange response")

	// ErrPageLimit marks a recent-fills drain that hit the connector's
	// page bound with pages still remaining. The partial window is
	// discarded; callers must never see a silently truncated result.
	ErrPageLimit = errors.New("page limit exceeded before window drained")
)

// errorType maps a failure to its metric label.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrRateLimitTimeout):
		return "rate_limit_timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "other"
	}
}
