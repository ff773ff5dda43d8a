// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-side repository functions for the
// Tenant model. Tenants are created during onboarding by a separate flow;
// the serving path only ever reads them, which is why no create/update
// helpers exist here.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetTenant fetches a tenant by its ID, or ErrNotFound if missing.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTenantByPrincipal fetches the tenant owned by an authenticated
// principal. This backs the resolver's read-repair path for session tokens
// issued before the tenant was fully provisioned. Returns ErrNotFound when
// no tenant is bound to the principal.
func GetTenantByPrincipal(ctx context.Context, db *gorm.DB, principal string) (*domain.Tenant, error) {
	if principal == "" {
		return nil, ErrNotFound
	}
	var t domain.Tenant
	err := db.WithContext(ctx).Where("principal = ?", principal).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
