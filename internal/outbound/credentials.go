package outbound

import (
	"context"
	"sync"
	"time"
)

// Credential is a short-lived provider token plus its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// CredentialSource fetches a fresh credential for a (tenant, provider)
// pair. Implementations talk to the provider's token endpoint or a secret
// store; failures are surfaced to the caller unclassified.
type CredentialSource interface {
	Fetch(ctx context.Context, tenantID, provider string) (Credential, error)
}

// CredentialSourceFunc adapts a function to CredentialSource.
type CredentialSourceFunc func(ctx context.Context, tenantID, provider string) (Credential, error)

func (f CredentialSourceFunc) Fetch(ctx context.Context, tenantID, provider string) (Credential, error) {
	return f(ctx, tenantID, provider)
}

// CredentialCache memoizes credentials per (tenant, provider) key and
// refreshes them a skew window before expiry, so outbound calls do not race
// the provider's clock. A cache entry is never shared across tenants.
type CredentialCache struct {
	Source CredentialSource
	TTL    time.Duration // cap on cache lifetime even if the token lives longer
	Skew   time.Duration // refresh this long before expiry
	Now    func() time.Time

	mu    sync.Mutex
	cache map[string]Credential
}

func NewCredentialCache(src CredentialSource, ttl, skew time.Duration) *CredentialCache {
	return &CredentialCache{
		Source: src,
		TTL:    ttl,
		Skew:   skew,
		Now:    time.Now,
		cache:  make(map[string]Credential),
	}
}

// Get returns a cached credential if it is still comfortably inside its
// lifetime, otherwise fetches a new one. A failed refresh does not evict a
// still-valid cached token.
func (c *CredentialCache) Get(ctx context.Context, tenantID, provider string) (Credential, error) {
	key := breakerKey(tenantID, provider)
	now := c.Now().UTC()

	c.mu.Lock()
	cred, ok := c.cache[key]
	c.mu.Unlock()
	if ok && now.Before(cred.ExpiresAt.Add(-c.Skew)) {
		return cred, nil
	}

	fresh, err := c.Source.Fetch(ctx, tenantID, provider)
	if err != nil {
		if ok && now.Before(cred.ExpiresAt) {
			return cred, nil
		}
		return Credential{}, err
	}
	if fresh.ExpiresAt.IsZero() || fresh.ExpiresAt.After(now.Add(c.TTL)) {
		fresh.ExpiresAt = now.Add(c.TTL)
	}

	c.mu.Lock()
	c.cache[key] = fresh
	c.mu.Unlock()
	return fresh, nil
}

// Invalidate drops the cached credential for a key, forcing the next Get to
// fetch. Called after an auth-classified provider failure.
func (c *CredentialCache) Invalidate(tenantID, provider string) {
	c.mu.Lock()
	delete(c.cache, breakerKey(tenantID, provider))
	c.mu.Unlock()
}
