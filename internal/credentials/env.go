package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"exchange-volume-tracker/internal/domain"
)

// Env resolves credentials from environment variables named
// <EXCHANGE>_API_KEY, <EXCHANGE>_API_SECRET, <EXCHANGE>_JWT and
// <EXCHANGE>_WALLET_ADDRESS, e.g. WOOX_API_KEY. Load a .env file
// beforehand (godotenv in the commands) to feed local runs.
type Env struct{}

// NewEnv creates an environment-backed credential store.
func NewEnv() *Env {
	return &Env{}
}

// Compile-time interface check.
var _ Store = (*Env)(nil)

// Get resolves the credential for an exchange, returning
// ErrCredentialNotFound when no variable for it is set.
func (e *Env) Get(_ context.Context, exchange string) (*domain.Credential, error) {
	prefix := strings.ToUpper(exchange)
	cred := &domain.Credential{
		APIKey:        os.Getenv(prefix + "_API_KEY"),
		APISecret:     os.Getenv(prefix + "_API_SECRET"),
		JWT:           os.Getenv(prefix + "_JWT"),
		WalletAddress: os.Getenv(prefix + "_WALLET_ADDRESS"),
	}
	if cred.APIKey == "" && cred.JWT == "" && cred.WalletAddress == "" {
		return nil, fmt.Errorf("exchange %s: %w", exchange, ErrCredentialNotFound)
	}
	return cred, nil
}
