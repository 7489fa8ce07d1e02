package cache

import (
	"context"
	"errors"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// CredentialStore persists provider access tokens under <gateway>_access_token
// so that every service instance shares one credential per gateway.
type CredentialStore struct {
	cache CacheClient
}

func NewCredentialStore(cache CacheClient) *CredentialStore {
	return &CredentialStore{cache: cache}
}

// Load reports ok=false on a cache miss.
func (s *CredentialStore) Load(ctx context.Context, g push.Gateway) (push.ProviderCredential, bool, error) {
	var cred push.ProviderCredential
	err := s.cache.Get(ctx, credentialKey(g), &cred)
	if errors.Is(err, ErrCacheMiss) {
		return push.ProviderCredential{}, false, nil
	}
	if err != nil {
		return push.ProviderCredential{}, false, err
	}
	return cred, true, nil
}

func (s *CredentialStore) Save(ctx context.Context, cred push.ProviderCredential, ttl time.Duration) error {
	return s.cache.Set(ctx, credentialKey(cred.Gateway), cred, ttl)
}

func (s *CredentialStore) Delete(ctx context.Context, g push.Gateway) error {
	return s.cache.Del(ctx, credentialKey(g))
}

func credentialKey(g push.Gateway) string {
	return string(g) + "_access_token"
}
