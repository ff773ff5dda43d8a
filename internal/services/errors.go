// Package services defines the business logic for reservations and the
// delivery ledger. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Reservation-related errors.
var (
	// ErrReservationNotFound indicates that the requested reservation does
	// not exist or belongs to a different tenant.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidDuration is returned when a requested duration is zero,
	// negative, or exceeds the configured maximum.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrStartInPast is returned when an explicitly dated request targets a
	// start time that has already passed.
	ErrStartInPast = errors.New("start time is in the past")

	// ErrEmailRequired is returned when the tenant's policy requires an
	// email and the caller supplied none or a malformed one.
	ErrEmailRequired = errors.New("email required for this tenant")
)

// Ledger-related errors.
var (
	// ErrDeliveryNotFound indicates that the requested ledger row does not
	// exist or belongs to a different tenant.
	ErrDeliveryNotFound = errors.New("delivery record not found")

	// ErrNotDeadLetter is returned when a retry is requested for a ledger
	// row that is not parked in dead_letter.
	ErrNotDeadLetter = errors.New("delivery record is not dead-lettered")

	// ErrInvalidTransition is returned when a status advance would skip or
	// reverse the pending → processing → completed/failed progression.
	ErrInvalidTransition = errors.New("invalid delivery status transition")
)
