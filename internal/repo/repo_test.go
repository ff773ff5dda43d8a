package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/domain"
)

// ---------- test helpers ----------

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "repo_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedTenant(t *testing.T, db *gorm.DB) *domain.Tenant {
	t.Helper()
	tn := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      "Bright Smiles Dental",
		Principal: "owner-" + uuid.NewString(),
		Timezone:  "UTC",
	}
	if err := db.Create(tn).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return tn
}

func seedContact(t *testing.T, db *gorm.DB, tenantID string) *domain.Contact {
	t.Helper()
	c, err := UpsertContact(context.Background(), db, tenantID, "Jane Doe", "+12125550123", "jane@example.com")
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return c
}

// ---------- tenants ----------

func TestGetTenantByPrincipal(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)

	got, err := GetTenantByPrincipal(context.Background(), db, tn.Principal)
	if err != nil {
		t.Fatalf("GetTenantByPrincipal: %v", err)
	}
	if got.ID != tn.ID {
		t.Fatalf("resolved tenant %s, want %s", got.ID, tn.ID)
	}

	if _, err := GetTenant(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------- contacts ----------

func TestUpsertContact_SamePhoneUpdatesInPlace(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	ctx := context.Background()

	first, err := UpsertContact(ctx, db, tn.ID, "Jane Doe", "+12125550123", "jane@example.com")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := UpsertContact(ctx, db, tn.ID, "Jane D. Doe", "+12125550123", "jd@example.com")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a new row: %s vs %s", second.ID, first.ID)
	}
	if second.CanonicalName != "Jane D. Doe" || second.CanonicalEmail != "jd@example.com" {
		t.Fatalf("upsert did not update fields: %+v", second)
	}

	var count int64
	db.Model(&domain.Contact{}).Where("tenant_id = ?", tn.ID).Count(&count)
	if count != 1 {
		t.Fatalf("contact rows = %d, want 1", count)
	}
}

func TestUpsertContact_TenantsDoNotShareContacts(t *testing.T) {
	db := newDB(t)
	a := seedTenant(t, db)
	b := seedTenant(t, db)
	ctx := context.Background()

	ca, err := UpsertContact(ctx, db, a.ID, "Jane", "+12125550123", "")
	if err != nil {
		t.Fatalf("tenant a upsert: %v", err)
	}
	cb, err := UpsertContact(ctx, db, b.ID, "Jane", "+12125550123", "")
	if err != nil {
		t.Fatalf("tenant b upsert: %v", err)
	}
	if ca.ID == cb.ID {
		t.Fatal("same phone across tenants must be distinct contacts")
	}
}

// ---------- reservations ----------

func TestHasOverlap_HalfOpenIntervals(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	c := seedContact(t, db, tn.ID)
	ctx := context.Background()
	horizon := 8 * time.Hour

	start := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	if _, err := CreateReservation(ctx, db, tn.ID, c.ID, start, 60, ""); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	cases := []struct {
		name  string
		start time.Time
		min   int
		want  bool
	}{
		{"identical interval", start, 60, true},
		{"straddles the start", start.Add(-30 * time.Minute), 60, true},
		{"inside the interval", start.Add(15 * time.Minute), 15, true},
		{"contains the interval", start.Add(-time.Hour), 240, true},
		{"back-to-back after", start.Add(time.Hour), 60, false},
		{"back-to-back before", start.Add(-time.Hour), 60, false},
		{"well clear", start.Add(5 * time.Hour), 60, false},
	}
	for _, tc := range cases {
		end := tc.start.Add(time.Duration(tc.min) * time.Minute)
		got, err := HasOverlap(ctx, db, tn.ID, tc.start, end, horizon)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: overlap = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHasOverlap_IgnoresCancelledAndOtherTenants(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	other := seedTenant(t, db)
	c := seedContact(t, db, tn.ID)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	r, err := CreateReservation(ctx, db, tn.ID, c.ID, start, 60, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Another tenant sees no conflict for the same wall-clock interval.
	got, err := HasOverlap(ctx, db, other.ID, start, start.Add(time.Hour), 8*time.Hour)
	if err != nil || got {
		t.Fatalf("cross-tenant overlap = %v, %v; want false", got, err)
	}

	// Cancelling frees the interval.
	if err := CancelReservation(ctx, db, tn.ID, r.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err = HasOverlap(ctx, db, tn.ID, start, start.Add(time.Hour), 8*time.Hour)
	if err != nil || got {
		t.Fatalf("overlap after cancel = %v, %v; want false", got, err)
	}
}

func TestCancelReservation_Errors(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	ctx := context.Background()

	if err := CancelReservation(ctx, db, tn.ID, uuid.NewString()); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

// ---------- delivery ledger ----------

func TestCreateDelivery_DuplicateEventRejected(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	ctx := context.Background()

	if _, err := CreateDelivery(ctx, db, tn.ID, "booking.webhook", "ev-1", "{}"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateDelivery(ctx, db, tn.ID, "booking.webhook", "ev-1", "{}"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same event id for a different tenant is a different effect.
	other := seedTenant(t, db)
	if _, err := CreateDelivery(ctx, db, other.ID, "booking.webhook", "ev-1", "{}"); err != nil {
		t.Fatalf("cross-tenant create: %v", err)
	}
}

func TestClaimDueDeliveries_FlipsAndCounts(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	ctx := context.Background()
	now := time.Now().UTC()

	rec, err := CreateDelivery(ctx, db, tn.ID, "booking.webhook", "ev-due", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := ClaimDueDeliveries(ctx, db, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != rec.ID {
		t.Fatalf("claimed %d rows", len(claimed))
	}
	if claimed[0].Status != domain.DeliveryProcessing || claimed[0].Attempts != 1 {
		t.Fatalf("claimed row state: %+v", claimed[0])
	}

	// A second sweep finds nothing: the row is processing now.
	again, err := ClaimDueDeliveries(ctx, db, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("row claimed twice")
	}
}

func TestDeliveryTransitions(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	ctx := context.Background()
	now := time.Now().UTC()

	rec, _ := CreateDelivery(ctx, db, tn.ID, "booking.webhook", "ev-x", "{}")

	// Completing a pending row is an invalid transition.
	if err := CompleteDelivery(ctx, db, rec.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("complete from pending: %v", err)
	}

	if _, err := ClaimDueDeliveries(ctx, db, now.Add(time.Second), 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Fail with a reschedule keeps the row retryable.
	next := now.Add(time.Minute)
	if err := FailDelivery(ctx, db, rec.ID, "timeout", &next); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := GetDelivery(ctx, db, tn.ID, rec.ID)
	if got.Status != domain.DeliveryFailed || got.NextAttemptAt == nil {
		t.Fatalf("failed row: %+v", got)
	}

	// Not due yet.
	if rows, _ := ClaimDueDeliveries(ctx, db, now.Add(30*time.Second), 10); len(rows) != 0 {
		t.Fatal("row claimed before its reschedule time")
	}
	// Due after the backoff window.
	rows, _ := ClaimDueDeliveries(ctx, db, next.Add(time.Second), 10)
	if len(rows) != 1 || rows[0].Attempts != 2 {
		t.Fatalf("reclaim: %+v", rows)
	}

	// Exhausted: nil reschedule parks the row.
	if err := FailDelivery(ctx, db, rec.ID, "still down", nil); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	got, _ = GetDelivery(ctx, db, tn.ID, rec.ID)
	if got.Status != domain.DeliveryDeadLetter || !got.Terminal() {
		t.Fatalf("dead-letter row: %+v", got)
	}

	// Requeue resets the chain.
	if err := RequeueDelivery(ctx, db, tn.ID, rec.ID, now); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, _ = GetDelivery(ctx, db, tn.ID, rec.ID)
	if got.Status != domain.DeliveryPending || got.Attempts != 0 {
		t.Fatalf("requeued row: %+v", got)
	}

	// Requeueing a non-dead-letter row fails.
	if err := RequeueDelivery(ctx, db, tn.ID, rec.ID, now); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("requeue pending: %v", err)
	}
}

func TestReapDeliveries_OnlyTerminalRows(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	ctx := context.Background()
	now := time.Now().UTC()

	pending, _ := CreateDelivery(ctx, db, tn.ID, "booking.webhook", "ev-keep", "{}")
	done, _ := CreateDelivery(ctx, db, tn.ID, "booking.webhook", "ev-done", "{}")
	if _, err := ClaimDueDeliveries(ctx, db, now.Add(time.Second), 10); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := CompleteDelivery(ctx, db, done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Put the pending row back so it survives the reap.
	next := now.Add(time.Hour)
	if err := FailDelivery(ctx, db, pending.ID, "later", &next); err != nil {
		t.Fatalf("fail: %v", err)
	}

	n, err := ReapDeliveries(ctx, db, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d rows, want 1", n)
	}
	if _, err := GetDelivery(ctx, db, tn.ID, pending.ID); err != nil {
		t.Fatalf("retryable row was reaped: %v", err)
	}
	if _, err := GetDelivery(ctx, db, tn.ID, done.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatal("completed row survived the reap")
	}
}

// ---------- idempotency ----------

func TestIdempotency_TTL(t *testing.T) {
	db := newDB(t)
	tn := seedTenant(t, db)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, tn.ID, "key-1", uuid.NewString(), uuid.NewString(), 201, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}

	if rec, err := GetIdempotency(ctx, db, tn.ID, "key-1", now); err != nil || rec == nil {
		t.Fatalf("live key not found: %v", err)
	}
	if rec, _ := GetIdempotency(ctx, db, tn.ID, "key-1", now.Add(2*time.Hour)); rec != nil {
		t.Fatal("expired key still served")
	}
	if rec, _ := GetIdempotency(ctx, db, "other-tenant", "key-1", now); rec != nil {
		t.Fatal("idempotency key leaked across tenants")
	}
}
