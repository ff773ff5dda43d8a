// Package tenant resolves a verified tenant identity for every inbound
// request. The normal path reads the tenant ID straight from a session
// token claim; the repair path covers a known, recoverable condition where
// an older token was issued before the tenant was fully provisioned and
// carries no tenant claim. In that case the resolver falls back to a
// database lookup keyed by the authenticated principal and injects the
// resolved ID transparently, so downstream components never observe a
// "missing tenant" state.
//
// The resolver is strictly read-side: it never creates or mutates tenant
// records.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/repo"
)

// Resolution errors. Handlers map these to 401 responses; they carry no
// token contents.
var (
	// ErrInvalidToken indicates a token that failed signature or claim
	// validation.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrUnknownTenant indicates a syntactically valid token whose tenant
	// could not be established: the tenant claim references no known tenant
	// and the principal owns none either.
	ErrUnknownTenant = errors.New("unknown tenant")
)

// Claims are the session-token claims the resolver understands. TenantID is
// absent from tokens issued before tenant provisioning completed; Subject
// (the authenticated principal) is always present.
type Claims struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies session tokens and produces tenant identities.
type Resolver struct {
	// DB is the GORM handle used for tenant lookups.
	DB *gorm.DB
	// Secret is the HMAC key session tokens are signed with.
	Secret []byte
}

// NewResolver constructs a Resolver over db with the given HMAC secret.
func NewResolver(db *gorm.DB, secret []byte) *Resolver {
	return &Resolver{DB: db, Secret: secret}
}

// Resolve verifies token and returns the tenant it belongs to.
//
// Paths, in order:
//  1. Token carries a tenant_id claim → verify the tenant exists, return it.
//  2. Claim missing or blank (stale token) → look up the tenant owned by
//     the token's subject and return that. This is the read-repair path;
//     it performs no writes.
//
// Returns ErrInvalidToken for signature/claim failures and ErrUnknownTenant
// when neither path yields an existing tenant.
func (r *Resolver) Resolve(ctx context.Context, token string) (*domain.Tenant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return r.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if id := strings.TrimSpace(claims.TenantID); id != "" {
		t, err := repo.GetTenant(ctx, r.DB, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrUnknownTenant
			}
			return nil, err
		}
		return t, nil
	}

	// Stale token: repair from the principal. No tenant is ever created here.
	t, err := repo.GetTenantByPrincipal(ctx, r.DB, claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownTenant
		}
		return nil, err
	}
	return t, nil
}
