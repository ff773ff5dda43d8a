// Reservation HTTP handlers.
//
// This file exposes the booking endpoints:
//   - POST   /reservations        (attempt to claim a slot)
//   - DELETE /reservations/:id    (soft-cancel)
//
// Handlers are transport-thin: they validate input, call the booking
// service, and translate the tagged outcome into HTTP responses. The
// agent-facing contract distinguishes three shapes: 201 with identifiers on
// a win, 409 with alternative start times on a conflict, and 422 with a
// field-specific code on validation failure, so a voice agent can branch
// without parsing prose.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous confirmed
// booking exists for (tenant, key), the handler replays that reservation
// and sets `Idempotency-Replayed: true` instead of booking twice.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/http/middleware"
	"github.com/voicebook/go-booking-backend/internal/normalize"
	"github.com/voicebook/go-booking-backend/internal/repo"
	"github.com/voicebook/go-booking-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ReservationService defines the booking operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type ReservationService interface {
	// Reserve attempts to claim a slot for the tenant's caller.
	Reserve(ctx context.Context, t *domain.Tenant, in services.ContactInput, startRaw string, durationMin int, notes string) (*services.ReserveResult, error)
	// Cancel soft-cancels a reservation, freeing its interval.
	Cancel(ctx context.Context, tenantID, reservationID string) error
}

//
// DTOs
//

// ContactPayload is the caller contact block of a reservation request.
type ContactPayload struct {
	Name  string `json:"name" binding:"required,min=1"`
	Phone string `json:"phone" binding:"required,min=3"`
	Email string `json:"email"`
}

// CreateReservationRequest is the JSON payload for booking a slot.
// StartTime accepts RFC 3339 or a natural-language date like
// "January 20th at 2pm"; DurationMinutes must be positive.
type CreateReservationRequest struct {
	Contact         ContactPayload `json:"contact" binding:"required"`
	StartTime       string         `json:"start_time" binding:"required,min=1"`
	DurationMinutes int            `json:"duration_minutes" binding:"required"`
	Notes           string         `json:"notes"`
}

// ReservationConfirmedResponse is returned when the booking wins the slot.
type ReservationConfirmedResponse struct {
	Success       bool   `json:"success"`
	ReservationID string `json:"reservation_id"`
	ContactID     string `json:"contact_id"`
	StartTime     string `json:"start_time"`
}

// SlotConflictResponse is returned when the interval is already held.
// Alternatives carries up to a few nearby open start times in RFC 3339.
type SlotConflictResponse struct {
	Success      bool     `json:"success"`
	Error        string   `json:"error"`
	Message      string   `json:"message"`
	Alternatives []string `json:"alternatives"`
}

// ValidationFailedResponse is returned for normalization failures, with a
// code naming the offending field class.
type ValidationFailedResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

//
// Handlers
//

// CreateReservation books a slot for the authenticated tenant.
func (h *Handlers) CreateReservation(c *gin.Context) {
	ctx := c.Request.Context()

	t, okT := middleware.TenantFrom(c)
	if !okT {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant not resolved")
		return
	}

	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contact, start_time, and duration_minutes are required")
		return
	}

	// Idempotency (replay path): a prior confirmed booking under this key
	// is returned as-is, without touching the slot.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, t.ID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := repo.GetReservation(ctx, h.db, t.ID, rec.ReservationID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, ReservationConfirmedResponse{
					Success:       true,
					ReservationID: prev.ID,
					ContactID:     prev.ContactID,
					StartTime:     prev.StartTime.UTC().Format(time.RFC3339),
				})
				return
			}
		}
	}

	res, err := h.bookSvc.Reserve(ctx, t, services.ContactInput{
		Name:  req.Contact.Name,
		Phone: req.Contact.Phone,
		Email: req.Contact.Email,
	}, req.StartTime, req.DurationMinutes, req.Notes)
	if err != nil {
		code, msg := validationCode(err)
		if code != "" {
			middleware.CountReservation("invalid")
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ValidationFailedResponse{
				Error:   code,
				Message: msg,
			})
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "reservation failed")
		return
	}

	if res.Conflict != nil {
		middleware.CountReservation("conflict")
		alts := make([]string, 0, len(res.Conflict.Alternatives))
		for _, a := range res.Conflict.Alternatives {
			alts = append(alts, a.UTC().Format(time.RFC3339))
		}
		c.AbortWithStatusJSON(http.StatusConflict, SlotConflictResponse{
			Error:        ErrCodeSlotUnavailable,
			Message:      "requested time is no longer available",
			Alternatives: alts,
		})
		return
	}

	middleware.CountReservation("confirmed")
	conf := res.Confirmed

	// Idempotency (store path), best effort.
	if idemKey != "" && h.db != nil {
		_, _ = repo.CreateIdempotency(ctx, h.db, t.ID, idemKey, conf.ReservationID, conf.ContactID, http.StatusCreated, h.idemTTL)
	}

	ok(c, http.StatusCreated, ReservationConfirmedResponse{
		Success:       true,
		ReservationID: conf.ReservationID,
		ContactID:     conf.ContactID,
		StartTime:     conf.StartTime.UTC().Format(time.RFC3339),
	})
}

// CancelReservation soft-cancels a reservation owned by the tenant. The row
// is kept for audit; the interval becomes bookable immediately.
func (h *Handlers) CancelReservation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reservation id must be a UUID")
		return
	}

	t, okT := middleware.TenantFrom(c)
	if !okT {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant not resolved")
		return
	}

	if err := h.bookSvc.Cancel(ctx, t.ID, id); err != nil {
		switch {
		case errors.Is(err, services.ErrReservationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "reservation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "cancel failed")
		}
		return
	}

	noContent(c)
}

// validationCode maps a normalization or policy error to its agent-facing
// code; ("", "") means the error is not a validation failure.
func validationCode(err error) (code, msg string) {
	switch {
	case errors.Is(err, normalize.ErrInvalidPhone):
		return ErrCodeInvalidPhone, "phone number could not be parsed"
	case errors.Is(err, normalize.ErrInvalidEmail):
		return ErrCodeInvalidEmail, "email address is malformed"
	case errors.Is(err, services.ErrEmailRequired):
		return ErrCodeInvalidEmail, "email address is required"
	case errors.Is(err, normalize.ErrInvalidDate):
		return ErrCodeInvalidDate, "start time could not be understood"
	case errors.Is(err, services.ErrStartInPast):
		return ErrCodeInvalidDate, "start time is in the past"
	case errors.Is(err, services.ErrInvalidDuration):
		return ErrCodeInvalidDuration, "duration must be positive and within policy"
	}
	return "", ""
}
