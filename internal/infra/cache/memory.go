package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	memoryCacheSize = 64
	memoryMaxTTL    = 24 * time.Hour
)

type memoryCache struct {
	entries *lru.LRU[string, *ServiceToken]
	now     func() time.Time
}

// NewMemoryTokenCache returns a process-local cache. Entries expire at the
// earlier of their own ttl and a one day ceiling.
func NewMemoryTokenCache() ServiceTokenCache {
	return &memoryCache{
		entries: lru.NewLRU[string, *ServiceToken](memoryCacheSize, nil, memoryMaxTTL),
		now:     time.Now,
	}
}

func (m *memoryCache) Get(_ context.Context, key string) (*ServiceToken, error) {
	token, ok := m.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !m.now().Before(token.ExpiresAt) {
		m.entries.Remove(key)
		return nil, nil
	}
	cp := *token
	return &cp, nil
}

func (m *memoryCache) Set(_ context.Context, key string, token *ServiceToken, ttl time.Duration) error {
	if token == nil || ttl <= 0 {
		return nil
	}
	cp := *token
	cp.ExpiresAt = m.now().Add(ttl)
	m.entries.Add(key, &cp)
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.entries.Remove(key)
	}
	return nil
}
