// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Reservation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. The
// booking service calls HasOverlap and CreateReservation inside a single
// transaction while holding the slot's advisory lock; nothing here enforces
// exclusion on its own.
//
// Error semantics:
//   - When a reservation is not found, functions return gorm.ErrRecordNotFound
//     (also exported in this package as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/domain"
)

// CreateReservation inserts a confirmed reservation row. The ID is a fresh
// UUID and StartTime is stored in UTC.
func CreateReservation(ctx context.Context, db *gorm.DB, tenantID, contactID string, start time.Time, durationMin int, notes string) (*domain.Reservation, error) {
	r := &domain.Reservation{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		ContactID:       contactID,
		StartTime:       start.UTC(),
		DurationMinutes: durationMin,
		Status:          domain.ReservationConfirmed,
		Notes:           notes,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// HasOverlap reports whether any non-cancelled reservation of the tenant
// intersects [start, end). Intervals are half-open, so a booking ending
// exactly at start does not overlap.
//
// The SQL predicate narrows candidates by start_time only (rows starting
// inside (start-horizon, end)) and the duration-aware check happens here,
// which keeps the query portable across SQLite and Postgres and served by
// the (tenant_id, start_time) index. horizon must be at least the maximum
// reservation duration the deployment permits.
func HasOverlap(ctx context.Context, db *gorm.DB, tenantID string, start, end time.Time, horizon time.Duration) (bool, error) {
	var candidates []domain.Reservation
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status <> ?", tenantID, domain.ReservationCancelled).
		Where("start_time < ? AND start_time > ?", end.UTC(), start.UTC().Add(-horizon)).
		Find(&candidates).Error
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		if c.End().After(start.UTC()) {
			return true, nil
		}
	}
	return false, nil
}

// ListActiveBetween returns the tenant's non-cancelled reservations whose
// start times fall in [from, to), ordered by start time. Used to probe for
// free alternative slots around a conflicting request.
func ListActiveBetween(ctx context.Context, db *gorm.DB, tenantID string, from, to time.Time) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status <> ?", tenantID, domain.ReservationCancelled).
		Where("start_time >= ? AND start_time < ?", from.UTC(), to.UTC()).
		Order("start_time asc").
		Find(&out).Error
	return out, err
}

// GetReservation fetches a reservation by ID within a tenant, or ErrNotFound.
func GetReservation(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Reservation, error) {
	var r domain.Reservation
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CancelReservation flips a reservation to cancelled, freeing its interval.
// Rows are never hard-deleted here; retention jobs own physical deletion.
// Returns ErrNotFound when the reservation does not exist, belongs to a
// different tenant, or is already cancelled.
func CancelReservation(ctx context.Context, db *gorm.DB, tenantID, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Reservation{}).
		Where("id = ? AND tenant_id = ? AND status <> ?", id, tenantID, domain.ReservationCancelled).
		Update("status", domain.ReservationCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
