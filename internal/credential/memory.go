package credential

import (
	"context"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MemoryStore is a process-local Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[push.Gateway]memoryEntry
}

type memoryEntry struct {
	cred    push.ProviderCredential
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: make(map[push.Gateway]memoryEntry)}
}

func (s *MemoryStore) Load(_ context.Context, g push.Gateway) (push.ProviderCredential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[g]
	if !ok {
		return push.ProviderCredential{}, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, g)
		return push.ProviderCredential{}, false, nil
	}
	return e.cred, true, nil
}

func (s *MemoryStore) Save(_ context.Context, cred push.ProviderCredential, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cred.Gateway] = memoryEntry{cred: cred, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, g push.Gateway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, g)
	return nil
}
