package credentials

import (
	"context"
	"fmt"

	"exchange-volume-tracker/internal/domain"
)

// Static resolves credentials from a fixed map, for tests.
type Static struct {
	creds map[string]*domain.Credential
}

// NewStatic creates a store serving the given credentials.
func NewStatic(creds map[string]*domain.Credential) *Static {
	return &Static{creds: creds}
}

// Compile-time interface check.
var _ Store = (*Static)(nil)

// Get resolves the credential for an exchange.
func (s *Static) Get(_ context.Context, exchange string) (*domain.Credential, error) {
	cred, exists := s.creds[exchange]
	if !exists {
		return nil, fmt.Errorf("exchange %s: %w", exchange, ErrCredentialNotFound)
	}
	copy := *cred
	return &copy, nil
}
