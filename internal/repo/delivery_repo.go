// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the delivery
// ledger (delivery_log table).
//
// The ledger is the durable record of every attempted outbound side effect.
// Rows progress pending → processing → completed/failed, with failed rows
// rescheduled until the attempt budget is exhausted and the row parks as
// dead_letter. Workers claim due rows with an optimistic status flip, so
// multiple dispatcher goroutines never double-send the same record.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/domain"
)

// ErrDuplicate indicates that a record already exists for a unique key
// (e.g., the ledger's (tenant_id, event_id) pair).
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation recognizes unique-constraint failures across the two
// supported drivers. glebarez/sqlite often returns plain-text errors for
// UNIQUE violations; pgx reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "sqlstate 23505")
}

// CreateDelivery registers a new pending ledger row. Returns ErrDuplicate
// when the tenant already has a row for eventID, so a retried registration
// never opens a second attempt chain for the same logical effect.
func CreateDelivery(ctx context.Context, db *gorm.DB, tenantID, eventType, eventID, payload string) (*domain.DeliveryRecord, error) {
	now := time.Now().UTC()
	rec := &domain.DeliveryRecord{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		EventType:     eventType,
		EventID:       eventID,
		Status:        domain.DeliveryPending,
		Payload:       payload,
		NextAttemptAt: &now,
		CreatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetDelivery fetches a ledger row by ID within a tenant, or ErrNotFound.
func GetDelivery(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetDeliveryByEvent fetches a ledger row by its dedupe key, or ErrNotFound.
func GetDeliveryByEvent(ctx context.Context, db *gorm.DB, tenantID, eventID string) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClaimDueDeliveries flips up to limit due rows (pending, or failed with
// next_attempt_at <= now) to processing and returns the claimed rows with
// attempts already incremented. The flip is optimistic: a row is returned
// only when this caller's UPDATE won, so concurrent dispatchers cannot
// claim the same row twice.
func ClaimDueDeliveries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.DeliveryRecord, error) {
	var due []domain.DeliveryRecord
	err := db.WithContext(ctx).
		Where("status IN ?", []string{domain.DeliveryPending, domain.DeliveryFailed}).
		Where("next_attempt_at IS NOT NULL AND next_attempt_at <= ?", now.UTC()).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.DeliveryRecord, 0, len(due))
	for _, rec := range due {
		res := db.WithContext(ctx).
			Model(&domain.DeliveryRecord{}).
			Where("id = ? AND status = ?", rec.ID, rec.Status).
			Updates(map[string]any{
				"status":          domain.DeliveryProcessing,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_attempt_at": now.UTC(),
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue // another worker won the flip
		}
		rec.Status = domain.DeliveryProcessing
		rec.Attempts++
		t := now.UTC()
		rec.LastAttemptAt = &t
		claimed = append(claimed, rec)
	}
	return claimed, nil
}

// CompleteDelivery marks a processing row completed.
func CompleteDelivery(ctx context.Context, db *gorm.DB, id string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("id = ? AND status = ?", id, domain.DeliveryProcessing).
		Updates(map[string]any{
			"status":          domain.DeliveryCompleted,
			"completed_at":    now,
			"next_attempt_at": nil,
			"error_message":   "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FailDelivery records a failed attempt. When nextAttempt is non-nil the row
// stays retryable (status failed, rescheduled); a nil nextAttempt parks the
// row as dead_letter.
func FailDelivery(ctx context.Context, db *gorm.DB, id, errMsg string, nextAttempt *time.Time) error {
	status := domain.DeliveryDeadLetter
	if nextAttempt != nil {
		status = domain.DeliveryFailed
	}
	res := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("id = ? AND status IN ?", id, []string{domain.DeliveryPending, domain.DeliveryProcessing}).
		Updates(map[string]any{
			"status":          status,
			"error_message":   errMsg,
			"next_attempt_at": nextAttempt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RequeueDelivery re-enqueues a dead-letter row as pending with its attempt
// budget reset. Returns ErrNotFound unless the row exists for the tenant and
// is currently dead_letter.
func RequeueDelivery(ctx context.Context, db *gorm.DB, tenantID, id string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("id = ? AND tenant_id = ? AND status = ?", id, tenantID, domain.DeliveryDeadLetter).
		Updates(map[string]any{
			"status":          domain.DeliveryPending,
			"attempts":        0,
			"next_attempt_at": now.UTC(),
			"error_message":   "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListDeliveriesByStatus returns the tenant's ledger rows in any of the
// given statuses, most recently updated first.
func ListDeliveriesByStatus(ctx context.Context, db *gorm.DB, tenantID string, statuses []string, offset, limit int) ([]domain.DeliveryRecord, error) {
	var out []domain.DeliveryRecord
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, statuses).
		Order("updated_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDeliveriesByStatus returns the number of ledger rows the tenant has
// in any of the given statuses.
func CountDeliveriesByStatus(ctx context.Context, db *gorm.DB, tenantID string, statuses []string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("tenant_id = ? AND status IN ?", tenantID, statuses).
		Count(&total).Error
	return total, err
}

// ReapDeliveries hard-deletes completed and dead_letter rows last updated
// before cutoff and returns the number removed. This is the only path that
// physically deletes ledger rows.
func ReapDeliveries(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{domain.DeliveryCompleted, domain.DeliveryDeadLetter}, cutoff.UTC()).
		Delete(&domain.DeliveryRecord{})
	return res.RowsAffected, res.Error
}
