// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes the symbolic error code constants mapped to HTTP
// responses via the fail() helper. The codes give clients a stable,
// machine-readable taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Generic codes (bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics.
//   - Validation codes name the offending field class (INVALID_PHONE, …) so
//     a voice agent can re-prompt for exactly the field that failed.
//   - SLOT_UNAVAILABLE is the one conflict a client should never blindly
//     retry: the interval is taken, and the response carries alternatives.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "SLOT_UNAVAILABLE",
//	  "message": "requested time is no longer available"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Validation codes, uppercase for parity with the agent-facing contract.
	ErrCodeInvalidPhone    = "INVALID_PHONE"
	ErrCodeInvalidEmail    = "INVALID_EMAIL"
	ErrCodeInvalidDate     = "INVALID_DATE"
	ErrCodeInvalidDuration = "INVALID_DURATION"

	// Booking and ledger codes.
	ErrCodeSlotUnavailable = "SLOT_UNAVAILABLE"
	ErrCodeNotDeadLetter   = "not_dead_letter"
)
