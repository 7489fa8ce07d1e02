package push

import (
	"fmt"
	"time"
)

// TokenTTL is how long a user's registrations live without renewal.
const TokenTTL = 30 * 24 * time.Hour

// DeviceToken is one device's addressable endpoint on one gateway.
type DeviceToken struct {
	Token        string    `json:"token" firestore:"token"`
	DeviceID     string    `json:"deviceId" firestore:"device_id"`
	Gateway      Gateway   `json:"gateway" firestore:"gateway"`
	RegisteredAt time.Time `json:"updatedAt" firestore:"updated_at"`
}

// Validate checks the record before it crosses a store boundary.
func (t DeviceToken) Validate() error {
	if !t.Gateway.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidGateway, t.Gateway)
	}
	if t.Token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	if t.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidToken)
	}
	return nil
}

// TokenSet is the registry view of a user: gateway to live registrations.
// Gateways without registrations are never present.
type TokenSet map[Gateway][]DeviceToken

// Tokens returns the raw gateway addresses registered for g.
func (s TokenSet) Tokens(g Gateway) []string {
	entries := s[g]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Token)
	}
	return out
}

// Empty reports whether no gateway holds a registration.
func (s TokenSet) Empty() bool {
	for _, entries := range s {
		if len(entries) > 0 {
			return false
		}
	}
	return true
}

// GroupTokens builds a TokenSet from a flat list, dropping empty groups.
func GroupTokens(tokens []DeviceToken) TokenSet {
	set := make(TokenSet)
	for _, t := range tokens {
		set[t.Gateway] = append(set[t.Gateway], t)
	}
	return set
}
