// Handler wiring.
//
// Handlers groups the HTTP endpoints for reservations, the delivery
// ledger, and integration health. It depends on abstract service
// interfaces to keep transport concerns separate from business logic; the
// concrete services are bound once at router construction.
package handlers

import (
	"time"

	"gorm.io/gorm"
)

// Handlers groups all API endpoints and their dependencies.
type Handlers struct {
	bookSvc ReservationService
	delSvc  DeliveryLedgerService
	health  IntegrationsHealth

	// db backs the idempotency replay path; nil disables replays.
	db      *gorm.DB
	idemTTL time.Duration
}

// New constructs a Handlers instance bound to the given services. health
// may be nil when no orchestrator is running (tests).
func New(bookSvc ReservationService, delSvc DeliveryLedgerService, health IntegrationsHealth, db *gorm.DB, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{bookSvc: bookSvc, delSvc: delSvc, health: health, db: db, idemTTL: idemTTL}
}
