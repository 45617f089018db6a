package config

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	secretService        = "ttcrm"
	accountSessionToken  = "session_token"
	accountStorePassword = "store_password"
	accountAPIToken      = "api_token"
)

// ErrNoSecret is returned when the secret store has no value for an account.
var ErrNoSecret = errors.New("secret not found")

// SecretStore abstracts the platform secret store for testing.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() SecretStore {
	return platformKeychain{}
}

// SessionToken returns the persisted store session token.
func SessionToken(kc SecretStore) (string, error) {
	return kc.Get(secretService, accountSessionToken)
}

// SaveSessionToken persists the store session token between CLI runs.
func SaveSessionToken(kc SecretStore, token string) error {
	if err := kc.Set(secretService, accountSessionToken, token); err != nil {
		return fmt.Errorf("saving session token: %w", err)
	}
	return nil
}

// ClearSessionToken forgets the persisted session. A missing token is not an
// error.
func ClearSessionToken(kc SecretStore) error {
	if err := kc.Delete(secretService, accountSessionToken); err != nil && !errors.Is(err, ErrNoSecret) {
		return fmt.Errorf("clearing session token: %w", err)
	}
	return nil
}

// GetAPIToken returns the bearer token of the local HTTP API, generating
// and storing one on first use.
func GetAPIToken(kc SecretStore) (string, error) {
	if tok, err := kc.Get(secretService, accountAPIToken); err == nil && tok != "" {
		return tok, nil
	}
	tok := uuid.New().String()
	if err := kc.Set(secretService, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
