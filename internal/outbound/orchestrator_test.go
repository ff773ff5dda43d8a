package outbound

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voicebook/go-booking-backend/internal/config"
	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/repo"
	"github.com/voicebook/go-booking-backend/internal/services"
)

// ---------- fixtures ----------

// scriptedProvider counts calls and answers from a per-call script; calls
// past the script succeed.
type scriptedProvider struct {
	mu     sync.Mutex
	name   string
	script []error
	calls  int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Deliver(context.Context, Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= len(p.script) {
		if err := p.script[p.calls-1]; err != nil {
			return "", err
		}
	}
	return "job-1", nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testOutboundConfig() config.OutboundConfig {
	return config.OutboundConfig{
		CallTimeout:     5 * time.Second,
		MaxAttempts:     3,
		InitialBackoff:  time.Millisecond,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
		ProviderRPS:     1000,
		ProviderBurst:   1000,
		CredentialTTL:   5 * time.Minute,
		RefreshSkew:     time.Minute,
	}
}

func newTestOrchestrator(t *testing.T, cfg config.OutboundConfig, p Provider) (*Orchestrator, *services.DeliveryService, string) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "outbound_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	tenantID := uuid.NewString()
	if err := db.Create(&domain.Tenant{
		ID:        tenantID,
		Name:      "Bright Smiles Dental",
		Principal: "owner-" + uuid.NewString(),
		Timezone:  "UTC",
	}).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	ledger := services.NewDeliveryService(db, config.LedgerConfig{
		MaxAttempts: 3,
		RetryBase:   time.Minute,
		Retention:   30 * 24 * time.Hour,
	})
	orch := NewOrchestrator(ledger, cfg, map[string]Provider{
		services.EventWebhook: p,
	}, nil)
	return orch, ledger, tenantID
}

func deliveryRow(t *testing.T, ledger *services.DeliveryService, tenantID, id string) *domain.DeliveryRecord {
	t.Helper()
	rec, err := repo.GetDelivery(context.Background(), ledger.DB, tenantID, id)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	return rec
}

// ---------- invoke ----------

func TestInvoke_SuccessCompletesLedgerRow(t *testing.T) {
	p := &scriptedProvider{name: "webhook"}
	orch, ledger, tenantID := newTestOrchestrator(t, testOutboundConfig(), p)
	ctx := context.Background()

	res, err := orch.Invoke(ctx, tenantID, services.EventWebhook, "ev-1", "{}")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Degraded || res.JobID != "job-1" {
		t.Fatalf("result: %+v", res)
	}
	rec := deliveryRow(t, ledger, tenantID, res.LedgerID)
	if rec.Status != domain.DeliveryCompleted || rec.Attempts != 1 || rec.JobID != "job-1" {
		t.Fatalf("ledger row: %+v", rec)
	}

	// A repeat invocation replays the recorded outcome, no provider call.
	again, err := orch.Invoke(ctx, tenantID, services.EventWebhook, "ev-1", "{}")
	if err != nil {
		t.Fatalf("repeat invoke: %v", err)
	}
	if again.JobID != "job-1" || again.Degraded {
		t.Fatalf("replayed result: %+v", again)
	}
	if p.callCount() != 1 {
		t.Fatalf("provider called %d times, want 1", p.callCount())
	}
}

func TestInvoke_TemporaryFailuresRetryInCall(t *testing.T) {
	p := &scriptedProvider{
		name: "webhook",
		script: []error{
			NewProviderError("webhook", ClassTemporary, errors.New("503")),
			NewProviderError("webhook", ClassNetwork, errors.New("reset")),
		},
	}
	orch, ledger, tenantID := newTestOrchestrator(t, testOutboundConfig(), p)

	res, err := orch.Invoke(context.Background(), tenantID, services.EventWebhook, "ev-retry", "{}")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Degraded {
		t.Fatalf("result degraded after in-call recovery: %+v", res)
	}
	if p.callCount() != 3 {
		t.Fatalf("provider called %d times, want 3", p.callCount())
	}
	if rec := deliveryRow(t, ledger, tenantID, res.LedgerID); rec.Status != domain.DeliveryCompleted {
		t.Fatalf("ledger row: %+v", rec)
	}
}

func TestInvoke_PermanentFailureStopsImmediately(t *testing.T) {
	p := &scriptedProvider{
		name: "webhook",
		script: []error{
			NewProviderError("webhook", ClassPermanent, errors.New("400 bad payload")),
			NewProviderError("webhook", ClassPermanent, errors.New("400 bad payload")),
			NewProviderError("webhook", ClassPermanent, errors.New("400 bad payload")),
		},
	}
	orch, ledger, tenantID := newTestOrchestrator(t, testOutboundConfig(), p)

	res, err := orch.Invoke(context.Background(), tenantID, services.EventWebhook, "ev-perm", "{}")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Degraded {
		t.Fatalf("permanent failure not reported degraded: %+v", res)
	}
	if p.callCount() != 1 {
		t.Fatalf("permanent failure retried: %d calls", p.callCount())
	}
	rec := deliveryRow(t, ledger, tenantID, res.LedgerID)
	if rec.Status != domain.DeliveryFailed || rec.NextAttemptAt == nil {
		t.Fatalf("ledger row: %+v", rec)
	}
}

func TestInvoke_CallerCancelledBeforeDispatch(t *testing.T) {
	p := &scriptedProvider{name: "webhook"}
	orch, ledger, tenantID := newTestOrchestrator(t, testOutboundConfig(), p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := orch.Invoke(ctx, tenantID, services.EventWebhook, "ev-gone", "{}")
	if !errors.Is(err, ErrCallerCancelled) {
		t.Fatalf("err = %v, want ErrCallerCancelled", err)
	}
	if !res.Degraded || res.Failure != services.FailureCallerCancelled {
		t.Fatalf("result: %+v", res)
	}
	if p.callCount() != 0 {
		t.Fatal("provider was called for a cancelled caller")
	}
	rec := deliveryRow(t, ledger, tenantID, res.LedgerID)
	if rec.Status != domain.DeliveryFailed || rec.ErrorMessage != services.FailureCallerCancelled {
		t.Fatalf("ledger row: %+v", rec)
	}

	// The dead caller still left exactly one row.
	var n int64
	if err := ledger.DB.Model(&domain.DeliveryRecord{}).Where("tenant_id = ? AND event_id = ?", tenantID, "ev-gone").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
}

func TestInvoke_DeadLetterReplaysWithoutDispatch(t *testing.T) {
	p := &scriptedProvider{name: "webhook"}
	orch, ledger, tenantID := newTestOrchestrator(t, testOutboundConfig(), p)
	ctx := context.Background()

	rec, err := ledger.Record(ctx, tenantID, services.EventWebhook, "ev-dead", "{}")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := repo.ClaimDueDeliveries(ctx, ledger.DB, time.Now().Add(365*24*time.Hour), 10); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := ledger.Fail(ctx, rec.ID, "provider down"); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	res, err := orch.Invoke(ctx, tenantID, services.EventWebhook, "ev-dead", "{}")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Degraded || res.Failure != "provider down" {
		t.Fatalf("result: %+v", res)
	}
	if p.callCount() != 0 {
		t.Fatal("dead-letter row reached the provider")
	}
}

// ---------- breaker behavior ----------

func TestInvoke_BreakerOpensAndIsolatesTenant(t *testing.T) {
	p := &scriptedProvider{
		name: "webhook",
		script: []error{
			NewProviderError("webhook", ClassTemporary, errors.New("down")),
			NewProviderError("webhook", ClassTemporary, errors.New("down")),
		},
	}
	cfg := testOutboundConfig()
	cfg.MaxAttempts = 1 // one provider call per dispatch, one breaker outcome each
	orch, ledger, tenantID := newTestOrchestrator(t, cfg, p)
	ctx := context.Background()

	other := uuid.NewString()
	if err := ledger.DB.Create(&domain.Tenant{
		ID:        other,
		Name:      "Lakeside Vet",
		Principal: "owner-" + uuid.NewString(),
		Timezone:  "UTC",
	}).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	// Two consecutive failures trip the breaker for this tenant.
	for i, id := range []string{"ev-a", "ev-b"} {
		res, err := orch.Invoke(ctx, tenantID, services.EventWebhook, id, "{}")
		if err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
		if !res.Degraded {
			t.Fatalf("invoke %d not degraded", i)
		}
	}
	if p.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", p.callCount())
	}

	// The open breaker short-circuits: no provider call, failure recorded.
	res, err := orch.Invoke(ctx, tenantID, services.EventWebhook, "ev-c", "{}")
	if err != nil {
		t.Fatalf("invoke under open breaker: %v", err)
	}
	if !res.Degraded || !strings.Contains(res.Failure, "circuit_open") {
		t.Fatalf("result: %+v", res)
	}
	if p.callCount() != 2 {
		t.Fatalf("provider called through an open breaker: %d", p.callCount())
	}
	if rec := deliveryRow(t, ledger, tenantID, res.LedgerID); rec.Status != domain.DeliveryFailed {
		t.Fatalf("short-circuited row: %+v", rec)
	}

	// The outage is scoped: the other tenant's breaker is untouched.
	ores, err := orch.Invoke(ctx, other, services.EventWebhook, "ev-other", "{}")
	if err != nil {
		t.Fatalf("other tenant invoke: %v", err)
	}
	if ores.Degraded {
		t.Fatalf("other tenant degraded by a neighbor outage: %+v", ores)
	}
	if p.callCount() != 3 {
		t.Fatalf("provider calls = %d, want 3", p.callCount())
	}

	// The health view reports both breakers.
	snaps := orch.Health()
	states := map[string]string{}
	for _, s := range snaps {
		states[s.TenantID] = s.State
	}
	if states[tenantID] != "open" {
		t.Fatalf("tripped breaker state = %q", states[tenantID])
	}
	if states[other] != "closed" {
		t.Fatalf("healthy breaker state = %q", states[other])
	}
	for _, s := range snaps {
		if s.TenantID == tenantID && s.OpenedAt == nil {
			t.Error("open breaker has no opened-at timestamp")
		}
	}
}

// ---------- credentials on the dispatch path ----------

func TestInvoke_AuthFailureInvalidatesCredential(t *testing.T) {
	p := &scriptedProvider{
		name: "webhook",
		script: []error{
			NewProviderError("webhook", ClassAuth, errors.New("401 token revoked")),
		},
	}
	cfg := testOutboundConfig()
	orch, _, tenantID := newTestOrchestrator(t, cfg, p)

	src := &countingSource{}
	orch.Creds = NewCredentialCache(src, cfg.CredentialTTL, cfg.RefreshSkew)
	ctx := context.Background()

	res, err := orch.Invoke(ctx, tenantID, services.EventWebhook, "ev-auth", "{}")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Degraded || p.callCount() != 1 {
		t.Fatalf("auth failure retried in-call: %+v, %d calls", res, p.callCount())
	}

	// The cached token was dropped, so the next dispatch fetches a fresh one.
	if _, err := orch.Creds.Get(ctx, tenantID, "webhook"); err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if src.fetches != 2 {
		t.Fatalf("fetches = %d, want a refetch after invalidation", src.fetches)
	}
}

// ---------- redeliver ----------

func TestRedeliver_CompletesClaimedRow(t *testing.T) {
	p := &scriptedProvider{name: "webhook"}
	orch, ledger, tenantID := newTestOrchestrator(t, testOutboundConfig(), p)
	ctx := context.Background()

	if _, err := ledger.Record(ctx, tenantID, services.EventWebhook, "ev-sweep", "{}"); err != nil {
		t.Fatalf("record: %v", err)
	}
	claimed, err := ledger.ClaimDue(ctx, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %d rows, %v", len(claimed), err)
	}

	res, err := orch.Redeliver(ctx, &claimed[0])
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if res.Degraded {
		t.Fatalf("result: %+v", res)
	}
	if rec := deliveryRow(t, ledger, tenantID, claimed[0].ID); rec.Status != domain.DeliveryCompleted {
		t.Fatalf("row after redeliver: %+v", rec)
	}
}
