// Package registry implements the device token registry on top of a
// dispatch.TokenStore: validation, registration stamping and grouping.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Registry owns the DeviceToken lifecycle.
type Registry struct {
	store  dispatch.TokenStore
	now    func() time.Time
	logger *slog.Logger
}

var _ dispatch.Registry = (*Registry)(nil)

// New wraps store.
func New(store dispatch.TokenStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		now:    time.Now,
		logger: logger.With("component", "TokenRegistry"),
	}
}

// Register records token as the live address of deviceID on gateway,
// replacing any earlier registration of that device on that gateway.
// Validation happens before any store mutation.
func (r *Registry) Register(ctx context.Context, userID string, gateway push.Gateway, deviceID, token string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", push.ErrInvalidToken)
	}
	rec := push.DeviceToken{
		Token:        token,
		DeviceID:     deviceID,
		Gateway:      gateway,
		RegisteredAt: r.now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.store.Put(ctx, userID, rec); err != nil {
		return fmt.Errorf("registering device %s on %s: %w", deviceID, gateway, err)
	}
	r.logger.Debug("Device token registered", "user", userID, "gateway", gateway, "device", deviceID)
	return nil
}

// Remove clears deviceID from every gateway. It reports false, without error,
// when nothing was registered for it.
func (r *Registry) Remove(ctx context.Context, userID, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("%w: empty device id", push.ErrInvalidToken)
	}
	n, err := r.store.DeleteDevice(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("removing device %s: %w", deviceID, err)
	}
	if n > 0 {
		r.logger.Debug("Device removed", "user", userID, "device", deviceID, "count", n)
	}
	return n > 0, nil
}

// List returns the user's registrations grouped by gateway. Unknown users
// yield an empty set.
func (r *Registry) List(ctx context.Context, userID string) (push.TokenSet, error) {
	tokens, err := r.store.All(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	return push.GroupTokens(tokens), nil
}

// RemoveTokens prunes addresses a gateway reported as dead.
func (r *Registry) RemoveTokens(ctx context.Context, userID string, gateway push.Gateway, tokens []string) (int, error) {
	if !gateway.Valid() {
		return 0, fmt.Errorf("%w: %q", push.ErrInvalidGateway, gateway)
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	return r.store.DeleteTokens(ctx, userID, gateway, tokens)
}
