package outbound

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// countingSource hands out sequential tokens and can be told to fail.
type countingSource struct {
	fetches int
	fail    error
	expiry  time.Time
}

func (s *countingSource) Fetch(_ context.Context, _, _ string) (Credential, error) {
	if s.fail != nil {
		return Credential{}, s.fail
	}
	s.fetches++
	return Credential{Token: fmt.Sprintf("tok-%d", s.fetches), ExpiresAt: s.expiry}, nil
}

func newTestCache(src *countingSource) (*CredentialCache, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCredentialCache(src, 5*time.Minute, time.Minute)
	c.Now = func() time.Time { return now }
	return c, &now
}

func TestCredentialCache_ServesCachedUntilSkewWindow(t *testing.T) {
	src := &countingSource{}
	cache, now := newTestCache(src)
	ctx := context.Background()

	first, err := cache.Get(ctx, "t1", "calendar")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if src.fetches != 1 {
		t.Fatalf("fetches = %d", src.fetches)
	}
	// Zero source expiry is capped at TTL.
	if want := now.Add(5 * time.Minute); !first.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", first.ExpiresAt, want)
	}

	// Inside the lifetime: no refetch.
	*now = now.Add(3 * time.Minute)
	again, _ := cache.Get(ctx, "t1", "calendar")
	if src.fetches != 1 || again.Token != first.Token {
		t.Fatalf("cached token not served: fetches=%d token=%s", src.fetches, again.Token)
	}

	// Inside the skew window before expiry: refreshed early.
	*now = now.Add(90 * time.Second)
	fresh, _ := cache.Get(ctx, "t1", "calendar")
	if src.fetches != 2 || fresh.Token == first.Token {
		t.Fatalf("skew refresh did not happen: fetches=%d", src.fetches)
	}
}

func TestCredentialCache_FailedRefreshKeepsValidToken(t *testing.T) {
	src := &countingSource{}
	cache, now := newTestCache(src)
	ctx := context.Background()

	first, err := cache.Get(ctx, "t1", "calendar")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// In the skew window the refresh fails, but the token is still valid.
	*now = now.Add(4*time.Minute + 30*time.Second)
	src.fail = errors.New("token endpoint down")
	got, err := cache.Get(ctx, "t1", "calendar")
	if err != nil || got.Token != first.Token {
		t.Fatalf("valid cached token not served through refresh failure: %v", err)
	}

	// Past expiry there is nothing left to serve.
	*now = now.Add(2 * time.Minute)
	if _, err := cache.Get(ctx, "t1", "calendar"); err == nil {
		t.Fatal("expired token served after failed refresh")
	}
}

func TestCredentialCache_InvalidateForcesFetch(t *testing.T) {
	src := &countingSource{}
	cache, _ := newTestCache(src)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "t1", "calendar"); err != nil {
		t.Fatalf("get: %v", err)
	}
	cache.Invalidate("t1", "calendar")
	if _, err := cache.Get(ctx, "t1", "calendar"); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if src.fetches != 2 {
		t.Fatalf("fetches = %d, want 2", src.fetches)
	}
}

func TestCredentialCache_KeysAreTenantScoped(t *testing.T) {
	src := &countingSource{}
	cache, _ := newTestCache(src)
	ctx := context.Background()

	a, _ := cache.Get(ctx, "t1", "calendar")
	b, _ := cache.Get(ctx, "t2", "calendar")
	if src.fetches != 2 {
		t.Fatalf("fetches = %d, want one per tenant", src.fetches)
	}
	if a.Token == b.Token {
		t.Fatal("tenants shared a credential")
	}
}
