// Package services – DeliveryService
//
// This file implements DeliveryService, the application-level owner of the
// delivery ledger. It registers side effects before dispatch, advances rows
// through the pending → processing → completed/failed progression, applies
// the bounded-retry reschedule policy, parks exhausted rows as dead_letter,
// and serves the failed-delivery and re-drive queries behind the HTTP API.
//
// The ledger is the durable source of truth for side-effect state; the
// circuit breaker and dispatcher are optimizations layered on top of it.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/config"
	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/repo"
)

// FailureCallerCancelled is the error message recorded when a caller
// disconnects before a side effect was dispatched.
const FailureCallerCancelled = "caller_cancelled"

// DeliveryService implements the delivery-ledger use cases over the
// delivery_log table.
type DeliveryService struct {
	DB  *gorm.DB
	Cfg config.LedgerConfig

	// Now is the clock used for scheduling; nil defaults to time.Now.
	Now func() time.Time
}

// NewDeliveryService constructs a DeliveryService with the given retry and
// retention policy.
func NewDeliveryService(db *gorm.DB, cfg config.LedgerConfig) *DeliveryService {
	return &DeliveryService{DB: db, Cfg: cfg}
}

func (s *DeliveryService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Record registers a side effect as a pending ledger row before any
// dispatch happens. Registration is idempotent on (tenant, eventID): a
// repeat registration returns the existing row instead of opening a second
// attempt chain.
func (s *DeliveryService) Record(ctx context.Context, tenantID, eventType, eventID, payload string) (*domain.DeliveryRecord, error) {
	rec, err := repo.CreateDelivery(ctx, s.DB, tenantID, eventType, eventID, payload)
	if errors.Is(err, repo.ErrDuplicate) {
		return repo.GetDeliveryByEvent(ctx, s.DB, tenantID, eventID)
	}
	return rec, err
}

// Begin flips a pending row to processing and counts the attempt. Used by
// the synchronous Invoke path; the dispatcher claims rows in batch instead.
// Returns ErrInvalidTransition when the row is not pending (e.g., another
// worker claimed it, or it already terminated).
func (s *DeliveryService) Begin(ctx context.Context, id string) error {
	now := s.now().UTC()
	res := s.DB.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("id = ? AND status = ?", id, domain.DeliveryPending).
		Updates(map[string]any{
			"status":          domain.DeliveryProcessing,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Complete marks a processing row completed and stores the provider's job
// reference when one exists.
func (s *DeliveryService) Complete(ctx context.Context, id, jobID string) error {
	if jobID != "" {
		if err := s.DB.WithContext(ctx).
			Model(&domain.DeliveryRecord{}).
			Where("id = ?", id).
			Update("job_id", jobID).Error; err != nil {
			return err
		}
	}
	err := repo.CompleteDelivery(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidTransition
	}
	return err
}

// Fail records a failed attempt and applies the retry policy: rows with
// budget left are rescheduled with exponential backoff (base doubling per
// attempt already made); exhausted rows park as dead_letter. The row is
// never dropped.
func (s *DeliveryService) Fail(ctx context.Context, id, reason string) error {
	var rec domain.DeliveryRecord
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeliveryNotFound
		}
		return err
	}

	var next *time.Time
	if rec.Attempts < s.Cfg.MaxAttempts {
		delay := s.Cfg.RetryBase
		for i := 1; i < rec.Attempts; i++ {
			delay *= 2
		}
		t := s.now().UTC().Add(delay)
		next = &t
	}
	err := repo.FailDelivery(ctx, s.DB, id, reason, next)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidTransition
	}
	return err
}

// CancelPending marks a still-pending row failed with reason
// caller_cancelled and removes it from the dispatch schedule. Rows already
// picked up are left alone: an in-flight call completes and records its
// real outcome.
func (s *DeliveryService) CancelPending(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("id = ? AND status = ?", id, domain.DeliveryPending).
		Updates(map[string]any{
			"status":          domain.DeliveryFailed,
			"error_message":   FailureCallerCancelled,
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ListFailed returns a page of the tenant's failed and dead-letter rows
// plus the total count for pagination.
func (s *DeliveryService) ListFailed(ctx context.Context, tenantID string, statuses []string, page, pageSize int) ([]domain.DeliveryRecord, int64, error) {
	if len(statuses) == 0 {
		statuses = []string{domain.DeliveryFailed, domain.DeliveryDeadLetter}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountDeliveriesByStatus(ctx, s.DB, tenantID, statuses)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.DeliveryRecord{}, 0, nil
	}
	items, err := repo.ListDeliveriesByStatus(ctx, s.DB, tenantID, statuses, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Retry re-enqueues a dead-letter row as pending with its attempt budget
// reset so the dispatcher picks it up on the next sweep.
func (s *DeliveryService) Retry(ctx context.Context, tenantID, id string) error {
	err := repo.RequeueDelivery(ctx, s.DB, tenantID, id, s.now())
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	// Distinguish a missing row from one in the wrong state.
	if _, gerr := repo.GetDelivery(ctx, s.DB, tenantID, id); gerr != nil {
		return ErrDeliveryNotFound
	}
	return ErrNotDeadLetter
}

// ClaimDue flips up to limit due rows to processing for the dispatcher.
func (s *DeliveryService) ClaimDue(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	return repo.ClaimDueDeliveries(ctx, s.DB, s.now(), limit)
}

// Reap deletes completed and dead-letter rows older than the retention
// window and returns the count removed.
func (s *DeliveryService) Reap(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.Cfg.Retention)
	return repo.ReapDeliveries(ctx, s.DB, cutoff)
}
