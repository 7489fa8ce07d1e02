package push

import (
	"errors"
	"time"
)

// CredentialSafetyBuffer is subtracted from every credential lifetime.
const CredentialSafetyBuffer = 5 * time.Minute

// ProviderCredential is ephemeral authentication material for one gateway.
type ProviderCredential struct {
	Gateway   Gateway   `json:"gateway"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Validate checks the record before it crosses a store boundary.
func (c ProviderCredential) Validate() error {
	if !c.Gateway.Valid() {
		return ErrInvalidGateway
	}
	if c.Token == "" {
		return errors.New("empty credential token")
	}
	if c.ExpiresAt.IsZero() {
		return errors.New("credential without expiry")
	}
	return nil
}

// Live reports whether the credential may still be served at now.
func (c ProviderCredential) Live(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt.Add(-CredentialSafetyBuffer))
}

// CacheTTL is how long the credential may sit in a cache from now.
// A non-positive result means it must not be cached.
func (c ProviderCredential) CacheTTL(now time.Time) time.Duration {
	return c.ExpiresAt.Add(-CredentialSafetyBuffer).Sub(now)
}
