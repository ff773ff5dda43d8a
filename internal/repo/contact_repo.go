// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Contact
// model.
//
// Contacts are upserted, never duplicated: the canonical phone is the
// identity within a tenant. UpsertContact is safe to call inside the booking
// transaction because the unique index on (tenant_id, canonical_phone)
// arbitrates concurrent inserts.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voicebook/go-booking-backend/internal/domain"
)

// UpsertContact inserts a contact or, when (tenantID, canonicalPhone)
// already exists, refreshes its name and email and returns the existing row.
// FirstSeenAt is preserved across upserts.
func UpsertContact(ctx context.Context, db *gorm.DB, tenantID, name, phone, email string) (*domain.Contact, error) {
	c := &domain.Contact{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		CanonicalName:  name,
		CanonicalPhone: phone,
		CanonicalEmail: email,
		FirstSeenAt:    time.Now().UTC(),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "canonical_phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"canonical_name", "canonical_email"}),
		}).
		Create(c).Error
	if err != nil {
		return nil, err
	}
	// On conflict the generated ID above was discarded; read the winning row.
	var out domain.Contact
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND canonical_phone = ?", tenantID, phone).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContact fetches a contact by ID within a tenant, or ErrNotFound.
func GetContact(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindContactByPhone fetches a contact by canonical phone within a tenant,
// or ErrNotFound.
func FindContactByPhone(ctx context.Context, db *gorm.DB, tenantID, phone string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND canonical_phone = ?", tenantID, phone).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}
