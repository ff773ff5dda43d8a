// Package services – BookingService
//
// This file implements BookingService, the component that owns the slot
// reservation algorithm: normalize the caller's contact and date fields,
// serialize contenders for the same (tenant, time-bucket) behind a
// non-blocking advisory lock, run the duration-aware overlap check, and
// atomically commit the contact upsert plus the reservation row, or reject
// with nearby open alternatives.
//
// The commit decision is deliberately decoupled from provider delivery: on
// success the service only registers side effects in the delivery ledger;
// dispatch happens asynchronously and can never affect whether a booking
// stands.
//
// Observability: Reserve and Cancel are OpenTelemetry-instrumented; spans
// carry tenant and reservation identifiers.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicebook/go-booking-backend/internal/config"
	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/normalize"
	"github.com/voicebook/go-booking-backend/internal/repo"
	"github.com/voicebook/go-booking-backend/internal/slotlock"
)

// Side-effect event types registered on a confirmed booking.
const (
	EventConfirmationMessage = "booking.confirmation_message"
	EventCalendarSync        = "booking.calendar_sync"
	EventWebhook             = "booking.webhook"
)

// ContactInput carries the raw caller-supplied contact fields.
type ContactInput struct {
	Name  string
	Phone string
	Email string
}

// Confirmed is the winning outcome of a reservation attempt.
type Confirmed struct {
	ReservationID string
	ContactID     string
	StartTime     time.Time
}

// Conflict is the losing outcome: the interval is held, and up to a few
// nearby open start times are suggested instead.
type Conflict struct {
	Alternatives []time.Time
}

// ReserveResult is the tagged outcome of Reserve. Exactly one of Confirmed
// or Conflict is non-nil on a nil error.
type ReserveResult struct {
	Confirmed *Confirmed
	Conflict  *Conflict
}

// SideEffectRecorder registers an outbound side effect in the delivery
// ledger. Implemented by DeliveryService; narrowed to an interface so the
// booking tests can observe registrations without a dispatcher.
type SideEffectRecorder interface {
	Record(ctx context.Context, tenantID, eventType, eventID, payload string) (*domain.DeliveryRecord, error)
}

// BookingService coordinates normalization, conflict resolution, and
// side-effect registration for reservations.
type BookingService struct {
	DB     *gorm.DB
	Locker slotlock.Locker
	Ledger SideEffectRecorder
	Cfg    config.BookingConfig

	// Now is the clock used for date resolution and past-start checks.
	// Nil defaults to time.Now; tests inject a fixed instant.
	Now func() time.Time
}

// NewBookingService constructs a BookingService over db with the given
// locker, ledger, and booking policy.
func NewBookingService(db *gorm.DB, locker slotlock.Locker, ledger SideEffectRecorder, cfg config.BookingConfig) *BookingService {
	return &BookingService{DB: db, Locker: locker, Ledger: ledger, Cfg: cfg}
}

func (s *BookingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// normalizer builds the per-tenant canonicalizer: the tenant's phone region
// and timezone win over the deployment defaults.
func (s *BookingService) normalizer(t *domain.Tenant) *normalize.Normalizer {
	region := s.Cfg.DefaultRegion
	if t.DefaultRegion != "" {
		region = t.DefaultRegion
	}
	zone := s.Cfg.DefaultTimezone
	if t.Timezone != "" {
		zone = t.Timezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	return normalize.New(region, loc, s.Now)
}

// Reserve attempts to claim [start, start+duration) for the tenant on
// behalf of the caller described by in.
//
// The algorithm runs in a single transaction: try-acquire the advisory lock
// for the (tenant, bucket) pair, run the duration-aware overlap check under
// the lock, then upsert the contact and insert the reservation. A held lock
// is treated exactly like an overlap (fail fast with alternatives, never
// queue) so the call returns in bounded time under contention. The lock is
// released when the transaction ends, on every path.
//
// Validation errors surface as normalize.ErrInvalidPhone/ErrInvalidEmail/
// ErrInvalidDate, ErrInvalidDuration, ErrStartInPast, or ErrEmailRequired.
// A malformed email is dropped rather than rejected when the tenant treats
// email as optional.
func (s *BookingService) Reserve(ctx context.Context, t *domain.Tenant, in ContactInput, startRaw string, durationMin int, notes string) (*ReserveResult, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "Reserve",
		trace.WithAttributes(attribute.String("tenant.id", t.ID)),
	)
	defer span.End()

	nz := s.normalizer(t)

	name := nz.Name(in.Name)
	phone, err := nz.Phone(in.Phone)
	if err != nil {
		return nil, err
	}
	email, err := nz.Email(in.Email)
	if err != nil {
		if !t.EmailOptional {
			return nil, err
		}
		email = ""
	}
	if email == "" && !t.EmailOptional {
		return nil, ErrEmailRequired
	}

	if durationMin <= 0 || time.Duration(durationMin)*time.Minute > s.Cfg.MaxDuration {
		return nil, ErrInvalidDuration
	}
	start, err := nz.StartTime(startRaw)
	if err != nil {
		return nil, err
	}
	if start.Before(s.now()) {
		return nil, ErrStartInPast
	}

	duration := time.Duration(durationMin) * time.Minute
	outcome, err := s.reserveTx(ctx, t.ID, name, phone, email, start, durationMin, notes)
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		// Lost the slot: compute suggestions outside the transaction so the
		// loser never holds the lock while probing.
		alts, aerr := s.alternatives(ctx, t.ID, start, duration)
		if aerr != nil {
			log.Warn().Err(aerr).Str("tenant_id", t.ID).Msg("alternative probe failed")
		}
		return &ReserveResult{Conflict: &Conflict{Alternatives: alts}}, nil
	}

	span.SetAttributes(attribute.String("reservation.id", outcome.ReservationID))
	s.registerSideEffects(ctx, t.ID, outcome)
	return &ReserveResult{Confirmed: outcome}, nil
}

// reserveTx runs the locked transaction. A nil Confirmed with nil error
// means the slot was contended (lock held or interval overlapping).
func (s *BookingService) reserveTx(ctx context.Context, tenantID, name, phone, email string, start time.Time, durationMin int, notes string) (*Confirmed, error) {
	key := slotlock.Key(tenantID, start, s.Cfg.BucketSize)

	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	committed := false
	var release func()
	defer func() {
		// Rollback is a no-op after commit. The lock is freed only once the
		// transaction has ended so no contender can check overlap against a
		// snapshot that misses our insert.
		if !committed {
			tx.Rollback()
		}
		if release != nil {
			release()
		}
	}()

	rel, ok, err := s.Locker.TryAcquire(tx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil // held elsewhere: same as a conflict
	}
	release = rel

	end := start.Add(time.Duration(durationMin) * time.Minute)
	overlap, err := repo.HasOverlap(ctx, tx, tenantID, start, end, s.Cfg.MaxDuration)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, nil
	}

	contact, err := repo.UpsertContact(ctx, tx, tenantID, name, phone, email)
	if err != nil {
		return nil, err
	}
	resv, err := repo.CreateReservation(ctx, tx, tenantID, contact.ID, start, durationMin, notes)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	committed = true

	return &Confirmed{
		ReservationID: resv.ID,
		ContactID:     contact.ID,
		StartTime:     resv.StartTime,
	}, nil
}

// alternatives probes slot-step offsets around the requested start and
// returns up to MaxAlternatives open start times, nearest first. Candidates
// in the past are skipped.
func (s *BookingService) alternatives(ctx context.Context, tenantID string, start time.Time, duration time.Duration) ([]time.Time, error) {
	if s.Cfg.MaxAlternatives == 0 {
		return nil, nil
	}

	windowFrom := start.Add(-2*s.Cfg.BucketSize - s.Cfg.MaxDuration)
	windowTo := start.Add(2*s.Cfg.BucketSize + duration)
	taken, err := repo.ListActiveBetween(ctx, s.DB, tenantID, windowFrom, windowTo)
	if err != nil {
		return nil, err
	}

	free := func(cand time.Time) bool {
		candEnd := cand.Add(duration)
		for _, r := range taken {
			if r.StartTime.Before(candEnd) && r.End().After(cand) {
				return false
			}
		}
		return true
	}

	now := s.now()
	var alts []time.Time
	maxSteps := int(2 * s.Cfg.BucketSize / s.Cfg.SlotStep)
	for i := 1; i <= maxSteps && len(alts) < s.Cfg.MaxAlternatives; i++ {
		offset := time.Duration(i) * s.Cfg.SlotStep
		for _, cand := range []time.Time{start.Add(offset), start.Add(-offset)} {
			if len(alts) >= s.Cfg.MaxAlternatives {
				break
			}
			if cand.Before(now) {
				continue
			}
			if free(cand) {
				alts = append(alts, cand.UTC())
			}
		}
	}
	sort.Slice(alts, func(i, j int) bool { return alts[i].Before(alts[j]) })
	return alts, nil
}

// registerSideEffects queues the confirmed booking's outbound effects in
// the delivery ledger. Registration failures are logged, never propagated:
// the reservation is already committed and delivery state is the ledger's
// concern.
func (s *BookingService) registerSideEffects(ctx context.Context, tenantID string, c *Confirmed) {
	if s.Ledger == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"reservation_id": c.ReservationID,
		"contact_id":     c.ContactID,
		"start_time":     c.StartTime.Format(time.RFC3339),
	})
	for _, eventType := range []string{EventConfirmationMessage, EventCalendarSync, EventWebhook} {
		eventID := eventType + ":" + c.ReservationID
		if _, err := s.Ledger.Record(ctx, tenantID, eventType, eventID, string(payload)); err != nil {
			log.Error().Err(err).
				Str("tenant_id", tenantID).
				Str("event_id", eventID).
				Msg("side effect registration failed")
		}
	}
}

// Cancel flips a reservation to cancelled, immediately freeing its interval
// for new reservations. The row is retained for audit; only retention jobs
// hard-delete.
func (s *BookingService) Cancel(ctx context.Context, tenantID, reservationID string) error {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "Cancel",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("reservation.id", reservationID),
		),
	)
	defer span.End()

	err := repo.CancelReservation(ctx, s.DB, tenantID, reservationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrReservationNotFound
	}
	return err
}
