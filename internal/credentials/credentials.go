// Package credentials resolves per-exchange API credentials. Secrets
// stay wherever the store points at; nothing here persists them.
package credentials

import (
	"context"
	"errors"

	"exchange-volume-tracker/internal/domain"
)

// ErrCredentialNotFound is returned when no credential is configured
// for an exchange.
var ErrCredentialNotFound = errors.New("credential not found")

// Store resolves the credential for an exchange.
type Store interface {
	Get(ctx context.Context, exchange string) (*domain.Credential, error)
}
