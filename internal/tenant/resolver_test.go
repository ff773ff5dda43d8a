package tenant

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/repo"
)

var testSecret = []byte("resolver-test-secret")

func newResolver(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "resolver_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewResolver(db, testSecret), db
}

func makeTenant(t *testing.T, db *gorm.DB) *domain.Tenant {
	t.Helper()
	tn := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      "Bright Smiles Dental",
		Principal: "acct-" + uuid.NewString(),
		Timezone:  "UTC",
	}
	if err := db.Create(tn).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tn
}

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestResolve_TenantClaim(t *testing.T) {
	r, db := newResolver(t)
	tn := makeTenant(t, db)

	token := signToken(t, testSecret, Claims{
		TenantID: tn.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tn.Principal,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	got, err := r.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != tn.ID {
		t.Fatalf("resolved %s, want %s", got.ID, tn.ID)
	}
}

func TestResolve_RepairsMissingTenantClaim(t *testing.T) {
	r, db := newResolver(t)
	tn := makeTenant(t, db)

	// A stale token carries only the principal.
	token := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tn.Principal,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	got, err := r.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != tn.ID {
		t.Fatalf("repair resolved %s, want %s", got.ID, tn.ID)
	}

	// The repair path never writes.
	var count int64
	db.Model(&domain.Tenant{}).Count(&count)
	if count != 1 {
		t.Fatalf("tenant rows = %d, want 1", count)
	}
}

func TestResolve_Rejections(t *testing.T) {
	r, db := newResolver(t)
	tn := makeTenant(t, db)
	ctx := context.Background()
	expiry := jwt.NewNumericDate(time.Now().Add(time.Hour))

	wrongKey := signToken(t, []byte("someone-else"), Claims{
		TenantID:         tn.ID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: tn.Principal, ExpiresAt: expiry},
	})
	expired := signToken(t, testSecret, Claims{
		TenantID: tn.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tn.Principal,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	unknownTenant := signToken(t, testSecret, Claims{
		TenantID:         uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{Subject: tn.Principal, ExpiresAt: expiry},
	})
	unknownPrincipal := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acct-nobody", ExpiresAt: expiry},
	})

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", ErrInvalidToken},
		{"garbage token", "not.a.jwt", ErrInvalidToken},
		{"wrong signing key", wrongKey, ErrInvalidToken},
		{"expired token", expired, ErrInvalidToken},
		{"unknown tenant claim", unknownTenant, ErrUnknownTenant},
		{"principal owns no tenant", unknownPrincipal, ErrUnknownTenant},
	}
	for _, tc := range cases {
		if _, err := r.Resolve(ctx, tc.token); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestResolve_RejectsNonHMACAlgorithm(t *testing.T) {
	r, db := newResolver(t)
	tn := makeTenant(t, db)

	// alg=none tokens must never validate regardless of claims.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		TenantID:         tn.ID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: tn.Principal},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	if _, err := r.Resolve(context.Background(), unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg=none accepted: %v", err)
	}
}
