// Package dispatch defines the contracts between the delivery dispatcher, the
// gateway adapters and the device token registry.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Adapter defines the contract for a component that delivers notifications
// through one specific gateway (e.g. Huawei HMS, Apple's APNS, Google's FCM).
type Adapter interface {
	// Gateway identifies the provider this adapter talks to.
	Gateway() push.Gateway
	// Send delivers the notification to a batch of gateway addresses.
	// It never returns an error: every failure is folded into the result.
	Send(ctx context.Context, tokens []string, n push.NotificationDescriptor) push.GatewayResult
}

// Credentials supplies provider access tokens to adapters.
type Credentials interface {
	// Get returns a live credential, acquiring one if needed. Errors wrap
	// push.ErrAuthFailure.
	Get(ctx context.Context, g push.Gateway) (push.ProviderCredential, error)
	// Invalidate drops a credential the gateway has rejected.
	Invalidate(ctx context.Context, g push.Gateway)
}

// TokenStore is the persistence contract behind the device token registry.
// Implementations key records per (user, gateway, device).
type TokenStore interface {
	// Put inserts or replaces the registration of token.DeviceID on token.Gateway
	// and renews the user's TTL.
	Put(ctx context.Context, userID string, token push.DeviceToken) error

	// All retrieves every live registration of the user.
	All(ctx context.Context, userID string) ([]push.DeviceToken, error)

	// DeleteDevice removes the device from every gateway and reports how many
	// registrations were removed.
	DeleteDevice(ctx context.Context, userID, deviceID string) (int, error)

	// DeleteTokens removes registrations on gateway whose address is in tokens.
	DeleteTokens(ctx context.Context, userID string, gateway push.Gateway, tokens []string) (int, error)
}

// Registry is the validated view of the token store used by callers.
type Registry interface {
	Register(ctx context.Context, userID string, gateway push.Gateway, deviceID, token string) error
	Remove(ctx context.Context, userID, deviceID string) (bool, error)
	List(ctx context.Context, userID string) (push.TokenSet, error)
	RemoveTokens(ctx context.Context, userID string, gateway push.Gateway, tokens []string) (int, error)
}
