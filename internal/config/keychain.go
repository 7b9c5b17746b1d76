package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Keychain abstracts platform secret storage. On macOS it is backed by the
// security CLI; elsewhere by a restricted-permission secrets file.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token that protects the management API,
// generating and storing a new one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	token, err := kc.Get("autocue", "api_token")
	if err == nil && token != "" {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token = hex.EncodeToString(buf)

	if err := kc.Set("autocue", "api_token", token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
