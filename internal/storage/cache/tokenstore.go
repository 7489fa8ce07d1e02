package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
//
// Every write bumps a per-user generation and a cached set is served only
// while its generation is current. A reader that loaded the store before a
// concurrent write can still populate the cache, but its entry is never served.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

var _ dispatch.TokenStore = (*CachedTokenStore)(nil)

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

type cachedTokens struct {
	Generation string             `json:"generation"`
	Tokens     []push.DeviceToken `json:"tokens"`
}

func (s *CachedTokenStore) All(ctx context.Context, userID string) ([]push.DeviceToken, error) {
	// The generation is read before the store so a write racing this load
	// leaves the entry stale.
	gen, cacheable := s.generation(ctx, userID)
	if cacheable {
		var cached cachedTokens
		if err := s.cache.Get(ctx, s.cacheKey(userID), &cached); err == nil && cached.Generation == gen {
			return cached.Tokens, nil
		}
	}

	fresh, err := s.realStore.All(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Caching is best effort; a Redis outage falls through to the real store.
	if cacheable {
		_ = s.cache.Set(ctx, s.cacheKey(userID), cachedTokens{Generation: gen, Tokens: fresh}, s.ttl)
	}
	return fresh, nil
}

// generation returns the user's current generation; "" when none was ever
// written. cacheable is false when the cache cannot be trusted.
func (s *CachedTokenStore) generation(ctx context.Context, userID string) (gen string, cacheable bool) {
	err := s.cache.Get(ctx, s.generationKey(userID), &gen)
	if errors.Is(err, ErrCacheMiss) {
		return "", true
	}
	return gen, err == nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) Put(ctx context.Context, userID string, token push.DeviceToken) error {
	if err := s.realStore.Put(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// DeleteDevice clears the cache even when nothing was removed so a stale
// entry can never keep a deregistered device receiving pushes.
func (s *CachedTokenStore) DeleteDevice(ctx context.Context, userID, deviceID string) (int, error) {
	n, err := s.realStore.DeleteDevice(ctx, userID, deviceID)
	if err != nil {
		return 0, err
	}
	return n, s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) DeleteTokens(ctx context.Context, userID string, gateway push.Gateway, tokens []string) (int, error) {
	n, err := s.realStore.DeleteTokens(ctx, userID, gateway, tokens)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.invalidate(ctx, userID)
}

// --- Helpers ---

// invalidate retires every cached set of the user by moving to a new
// generation, then drops the current entry.
func (s *CachedTokenStore) invalidate(ctx context.Context, userID string) error {
	if err := s.cache.Set(ctx, s.generationKey(userID), uuid.NewString(), s.ttl+generationSlack); err != nil {
		return fmt.Errorf("token cache invalidation failed: %w", err)
	}
	if err := s.cache.Del(ctx, s.cacheKey(userID)); err != nil {
		return fmt.Errorf("token cache invalidation failed: %w", err)
	}
	return nil
}

// generationSlack keeps a generation alive well past the entries tagged with it.
const generationSlack = 24 * time.Hour

func (s *CachedTokenStore) cacheKey(userID string) string {
	return fmt.Sprintf("push:tokens:%s", userID)
}

func (s *CachedTokenStore) generationKey(userID string) string {
	return fmt.Sprintf("push:tokens:%s:gen", userID)
}
