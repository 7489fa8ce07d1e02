// Package credential hands out provider access tokens, reusing a shared cached
// copy until it comes within push.CredentialSafetyBuffer of expiring.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Source acquires a fresh credential from a gateway's auth endpoint.
type Source interface {
	Acquire(ctx context.Context) (push.ProviderCredential, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context) (push.ProviderCredential, error)

func (f SourceFunc) Acquire(ctx context.Context) (push.ProviderCredential, error) {
	return f(ctx)
}

// Store is the shared backing store for credentials, keyed by gateway.
type Store interface {
	Load(ctx context.Context, g push.Gateway) (push.ProviderCredential, bool, error)
	Save(ctx context.Context, cred push.ProviderCredential, ttl time.Duration) error
	Delete(ctx context.Context, g push.Gateway) error
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithAcquireHook is invoked once per successful acquisition.
func WithAcquireHook(fn func(push.Gateway)) Option {
	return func(c *Cache) { c.onAcquire = fn }
}

// Cache is safe for concurrent use. Concurrent misses may each acquire;
// the last write wins and every acquired credential is valid.
type Cache struct {
	store     Store
	now       func() time.Time
	onAcquire func(push.Gateway)
	logger    *slog.Logger

	mu      sync.RWMutex
	sources map[push.Gateway]Source
}

func NewCache(store Store, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		now:     time.Now,
		logger:  logger.With("component", "CredentialCache"),
		sources: make(map[push.Gateway]Source),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register binds the auth source used on a miss for gateway g.
func (c *Cache) Register(g push.Gateway, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[g] = src
}

// Get returns a live credential for g, acquiring one on a miss.
// Every failure wraps push.ErrAuthFailure.
func (c *Cache) Get(ctx context.Context, g push.Gateway) (push.ProviderCredential, error) {
	c.mu.RLock()
	src, ok := c.sources[g]
	c.mu.RUnlock()
	if !ok {
		return push.ProviderCredential{}, fmt.Errorf("%w: no credential source for %s", push.ErrAuthFailure, g)
	}

	cached, hit, err := c.store.Load(ctx, g)
	if err != nil {
		// The store only saves round trips; fall through to the provider.
		c.logger.Warn("Credential store read failed", "gateway", g, "err", err)
	} else if hit && cached.Live(c.now()) {
		return cached, nil
	}

	fresh, err := src.Acquire(ctx)
	if err != nil {
		return push.ProviderCredential{}, fmt.Errorf("%w: %s: %w", push.ErrAuthFailure, g, err)
	}
	fresh.Gateway = g
	if err := fresh.Validate(); err != nil {
		return push.ProviderCredential{}, fmt.Errorf("%w: %s returned unusable credential: %w", push.ErrAuthFailure, g, err)
	}
	if c.onAcquire != nil {
		c.onAcquire(g)
	}

	ttl := fresh.CacheTTL(c.now())
	if ttl <= 0 {
		c.logger.Warn("Credential lifetime below safety buffer, not caching", "gateway", g, "expires_at", fresh.ExpiresAt)
		return fresh, nil
	}
	if err := c.store.Save(ctx, fresh, ttl); err != nil {
		c.logger.Warn("Credential store write failed", "gateway", g, "err", err)
	}
	c.logger.Debug("Acquired provider credential", "gateway", g, "ttl", ttl)
	return fresh, nil
}

// Invalidate drops the cached credential after a gateway rejects it.
func (c *Cache) Invalidate(ctx context.Context, g push.Gateway) {
	if err := c.store.Delete(ctx, g); err != nil {
		c.logger.Warn("Credential invalidation failed", "gateway", g, "err", err)
	}
}
