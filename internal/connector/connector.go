// Package connector defines the uniform contract every exchange
// integration implements, plus the shared HTTP machinery they build on.
// Adding an exchange means adding a new package implementing Connector;
// shared logic never changes per exchange.
package connector

import (
	"context"
	"time"

	"exchange-volume-tracker/internal/domain"
)

// Connector retrieves one user's trade fills from a single exchange.
// Implementations are stateless apart from the rate limiter they share;
// credentials arrive by reference per call and are never stored.
type Connector interface {
	// Name returns the exchange identifier, e.g. "woox".
	Name() string

	// FetchRecentFills returns all fills executed since the given time.
	// If the exchange paginates the response, the connector drains every
	// page for the window internally; it never silently truncates.
	// Fails with ErrAuth, ErrRateLimited, ErrRateLimitTimeout,
	// ErrTransient or ErrMalformedResponse.
	FetchRecentFills(ctx context.Context, cred *domain.Credential, since time.Time) ([]domain.RawFill, error)

	// FetchFillsPage returns one page of fills for the market and time
	// range, starting at cursor (empty for the first page). The returned
	// next cursor is empty when this was the last page of the range.
	FetchFillsPage(ctx context.Context, cred *domain.Credential, market string, start, end time.Time, cursor string) ([]domain.RawFill, string, error)
}

// Markets is implemented by connectors that know which markets the user
// trades, so the backfill coordinator can enumerate pairs.
type Markets interface {
	Markets() []string
}
