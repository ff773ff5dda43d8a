// Package domain defines the persistence models for tenants, contacts,
// reservations, and the delivery ledger. These types are mapped with GORM
// and form the core data layer of the booking application.
package domain

import "time"

// Reservation status values. A reservation is never hard-deleted by the
// application; cancellation is a status flip that frees the interval.
const (
	ReservationPending   = "pending"
	ReservationConfirmed = "confirmed"
	ReservationCancelled = "cancelled"
)

// Delivery ledger status values, in order of normal progression. A failed
// record is rescheduled until its attempt budget runs out, then parked as
// dead_letter for manual or scheduled re-drive.
const (
	DeliveryPending    = "pending"
	DeliveryProcessing = "processing"
	DeliveryCompleted  = "completed"
	DeliveryFailed     = "failed"
	DeliveryDeadLetter = "dead_letter"
)

// Tenant is the isolation boundary. Every other entity, every advisory lock
// key, and every circuit-breaker key is scoped by a tenant ID. A tenant ID
// is assigned at onboarding and no record is ever re-parented.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Principal: the authenticated account that owns this tenant; unique.
//     Used by the resolver's read-repair path for stale session tokens.
//   - Timezone: IANA zone used to resolve year-less caller dates.
//   - DefaultRegion: ISO-3166 alpha-2 region for national phone parsing.
//   - EmailOptional: when true, a missing or malformed email does not block
//     a booking for this tenant.
type Tenant struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	Name          string    `json:"name"           gorm:"type:varchar(255);not null"`
	Principal     string    `json:"principal"      gorm:"type:varchar(255);not null;uniqueIndex:ux_tenant_principal"`
	Timezone      string    `json:"timezone"       gorm:"type:varchar(64);not null;default:'UTC'"`
	DefaultRegion string    `json:"default_region" gorm:"type:char(2);not null;default:'US'"`
	EmailOptional bool      `json:"email_optional" gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// Contact is a caller whose details have passed the input normalizer.
// Contacts are upserted, never duplicated: uniqueness is
// (tenant_id, canonical_phone), so a repeat caller maps to the same row.
//
// Fields:
//   - CanonicalPhone: E.164 (e.g. "+15551234567").
//   - CanonicalEmail: lowercased, trimmed; may be empty when the tenant
//     treats email as optional.
//   - FirstSeenAt: when this contact first reached the system.
type Contact struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	TenantID       string    `json:"tenant_id"       gorm:"type:char(36);not null;index:idx_contact_tenant;uniqueIndex:ux_contact_phone,priority:1"`
	CanonicalName  string    `json:"canonical_name"  gorm:"type:varchar(255);not null"`
	CanonicalPhone string    `json:"canonical_phone" gorm:"type:varchar(20);not null;uniqueIndex:ux_contact_phone,priority:2"`
	CanonicalEmail string    `json:"canonical_email" gorm:"type:varchar(255)"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Reservation is a committed claim on a time slot. The application-wide
// invariant: for a given tenant, no two reservations with status other than
// cancelled may have overlapping [StartTime, StartTime+Duration) intervals.
// Rows are created only through the booking service's locked transaction.
//
// StartTime is stored in UTC. DurationMinutes is kept as an integer column
// so the overlap predicate stays portable across SQLite and Postgres.
type Reservation struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	TenantID        string    `json:"tenant_id"        gorm:"type:char(36);not null;index:idx_resv_tenant_start,priority:1;index:idx_resv_tenant_status,priority:1"`
	ContactID       string    `json:"contact_id"       gorm:"type:char(36);not null;index"`
	StartTime       time.Time `json:"start_time"       gorm:"not null;index:idx_resv_tenant_start,priority:2"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null"`
	Status          string    `json:"status"           gorm:"type:varchar(16);not null;default:'confirmed';check:status IN ('pending','confirmed','cancelled');index:idx_resv_tenant_status,priority:2"`
	Notes           string    `json:"notes,omitempty"  gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Contact is the reservation holder.
	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Reservation.
func (Reservation) TableName() string { return "reservations" }

// End returns the exclusive end of the reserved interval.
func (r Reservation) End() time.Time {
	return r.StartTime.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// DeliveryRecord is one row of the delivery ledger: the durable trail of a
// single outbound side effect (calendar write, confirmation message,
// webhook). A row is registered before dispatch and advanced through
// pending → processing → completed/failed, with failed rows rescheduled via
// NextAttemptAt until the attempt budget is spent and the row parks as
// dead_letter.
//
// EventID is the idempotency key: unique per tenant, so a retried delivery
// chain never opens a second row for the same logical effect.
type DeliveryRecord struct {
	ID            string     `json:"id"              gorm:"type:char(36);primaryKey"`
	TenantID      string     `json:"tenant_id"       gorm:"type:char(36);not null;index:idx_delivery_tenant_status,priority:1;uniqueIndex:ux_delivery_event,priority:1"`
	EventType     string     `json:"event_type"      gorm:"type:varchar(64);not null"`
	EventID       string     `json:"event_id"        gorm:"type:varchar(128);not null;uniqueIndex:ux_delivery_event,priority:2"`
	Status        string     `json:"status"          gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','processing','completed','failed','dead_letter');index:idx_delivery_tenant_status,priority:2;index:idx_delivery_due,priority:1"`
	Attempts      int        `json:"attempts"        gorm:"not null;default:0"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" gorm:"index:idx_delivery_due,priority:2"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty" gorm:"type:text"`
	JobID         string     `json:"job_id,omitempty"        gorm:"type:varchar(128)"`
	Payload       string     `json:"-"               gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for DeliveryRecord.
func (DeliveryRecord) TableName() string { return "delivery_log" }

// Terminal reports whether the record has reached an end state for its
// current attempt chain.
func (d DeliveryRecord) Terminal() bool {
	switch d.Status {
	case DeliveryCompleted, DeliveryDeadLetter:
		return true
	}
	return false
}
