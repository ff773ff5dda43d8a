// Package outbound dispatches side effects to external providers with
// bounded retries, per-(tenant,provider) circuit breaking and rate
// isolation, and ledger-backed durability. Provider failures never
// propagate as booking failures: callers get a degraded Result and the
// dispatcher re-drives the row later.
package outbound

import (
	"context"
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/voicebook/go-booking-backend/internal/config"
	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/services"
)

// Request carries everything a provider needs for one delivery.
type Request struct {
	TenantID   string
	EventType  string
	Payload    string
	Credential Credential
}

// Provider performs one delivery attempt against an external system and
// returns the provider-side job reference on success. Implementations
// classify their own failures with NewProviderError; unclassified errors
// are treated per Classify.
type Provider interface {
	Name() string
	Deliver(ctx context.Context, req Request) (jobID string, err error)
}

// Result reports the outcome of one dispatch. Degraded means the side
// effect did not complete now; the ledger row remains scheduled (or parked
// as dead_letter) and the primary operation should still succeed.
type Result struct {
	LedgerID string
	EventID  string
	JobID    string
	Degraded bool
	Failure  string
}

// Orchestrator owns the dispatch path for outbound side effects. One
// instance serves all tenants; isolation happens per (tenant, provider)
// inside the breaker registry and limiter map.
type Orchestrator struct {
	Ledger    *services.DeliveryService
	Cfg       config.OutboundConfig
	Providers map[string]Provider // event type → provider
	Creds     *CredentialCache    // nil for providers that need no credential

	breakers *breakerRegistry

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewOrchestrator(ledger *services.DeliveryService, cfg config.OutboundConfig, providers map[string]Provider, creds *CredentialCache) *Orchestrator {
	return &Orchestrator{
		Ledger:    ledger,
		Cfg:       cfg,
		Providers: providers,
		Creds:     creds,
		breakers:  newBreakerRegistry(cfg.BreakerFailures, cfg.BreakerCooldown),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Health returns the breaker snapshots for the integrations health view.
func (o *Orchestrator) Health() []BreakerSnapshot {
	return o.breakers.snapshots()
}

func (o *Orchestrator) limiter(tenantID, provider string) *rate.Limiter {
	key := breakerKey(tenantID, provider)
	o.mu.Lock()
	defer o.mu.Unlock()
	lim, ok := o.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(o.Cfg.ProviderRPS), o.Cfg.ProviderBurst)
		o.limiters[key] = lim
	}
	return lim
}

// Invoke registers the side effect in the ledger and dispatches it
// synchronously. A repeat call with the same (tenant, eventID) that already
// completed returns the recorded outcome without touching the provider. A
// caller that disconnected before dispatch gets the row cancelled instead
// of a wasted provider call.
func (o *Orchestrator) Invoke(ctx context.Context, tenantID, eventType, eventID, payload string) (*Result, error) {
	// Every ledger write on this path runs detached from the caller's
	// context: a caller that disconnected must still leave exactly one row.
	dbCtx := context.WithoutCancel(ctx)

	rec, err := o.Ledger.Record(dbCtx, tenantID, eventType, eventID, payload)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case domain.DeliveryCompleted:
		return &Result{LedgerID: rec.ID, EventID: rec.EventID, JobID: rec.JobID}, nil
	case domain.DeliveryDeadLetter:
		return &Result{LedgerID: rec.ID, EventID: rec.EventID, Degraded: true, Failure: rec.ErrorMessage}, nil
	}

	if err := ctx.Err(); err != nil {
		if cerr := o.Ledger.CancelPending(dbCtx, rec.ID); cerr != nil && !errors.Is(cerr, services.ErrInvalidTransition) {
			log.Ctx(ctx).Error().Err(cerr).Str("delivery_id", rec.ID).Msg("cancel pending delivery")
		}
		return &Result{LedgerID: rec.ID, EventID: rec.EventID, Degraded: true, Failure: services.FailureCallerCancelled}, ErrCallerCancelled
	}

	if err := o.Ledger.Begin(dbCtx, rec.ID); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			// Another worker holds the row; report degraded, it will land.
			return &Result{LedgerID: rec.ID, EventID: rec.EventID, Degraded: true, Failure: "in_flight"}, nil
		}
		return nil, err
	}
	rec.Attempts++
	return o.execute(ctx, rec)
}

// Redeliver dispatches a ledger row the dispatcher already claimed (status
// processing, attempt counted).
func (o *Orchestrator) Redeliver(ctx context.Context, rec *domain.DeliveryRecord) (*Result, error) {
	return o.execute(ctx, rec)
}

// execute runs the provider call for a row in processing state and records
// the terminal transition. The breaker sees one outcome per execute, not
// one per retry, so a burst of retries cannot trip it alone.
func (o *Orchestrator) execute(ctx context.Context, rec *domain.DeliveryRecord) (*Result, error) {
	// Dispatch continues even if the caller hangs up mid-call; the outcome
	// still has to reach the ledger.
	ctx = context.WithoutCancel(ctx)

	provider, ok := o.Providers[rec.EventType]
	if !ok {
		return o.fail(ctx, rec, NewProviderError("", ClassPermanent, errors.New("no provider for event type "+rec.EventType)))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.Cfg.CallTimeout)
	defer cancel()

	if err := o.limiter(rec.TenantID, provider.Name()).Wait(callCtx); err != nil {
		return o.fail(ctx, rec, NewProviderError(provider.Name(), ClassRateLimit, err))
	}

	cb := o.breakers.get(rec.TenantID, provider.Name())
	jobID, err := cb.Execute(func() (string, error) {
		return o.attempt(callCtx, provider, rec)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = NewProviderError(provider.Name(), ClassTemporary, errors.New("circuit_open"))
		}
		return o.fail(ctx, rec, err)
	}

	if err := o.Ledger.Complete(ctx, rec.ID, jobID); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("delivery_id", rec.ID).
		Str("event_type", rec.EventType).
		Str("provider", provider.Name()).
		Str("job_id", jobID).
		Msg("side effect delivered")
	return &Result{LedgerID: rec.ID, EventID: rec.EventID, JobID: jobID}, nil
}

// attempt runs the in-call retry loop. Transient classes retry with
// exponential backoff inside the breaker window; auth and permanent
// failures stop immediately. An auth failure also drops the cached
// credential so the next ledger-driven attempt fetches a fresh one.
func (o *Orchestrator) attempt(ctx context.Context, provider Provider, rec *domain.DeliveryRecord) (string, error) {
	op := func() (string, error) {
		req := Request{TenantID: rec.TenantID, EventType: rec.EventType, Payload: rec.Payload}
		if o.Creds != nil {
			cred, err := o.Creds.Get(ctx, rec.TenantID, provider.Name())
			if err != nil {
				return "", NewProviderError(provider.Name(), ClassAuth, err)
			}
			req.Credential = cred
		}
		jobID, err := provider.Deliver(ctx, req)
		if err == nil {
			return jobID, nil
		}
		class := Classify(err)
		if class == ClassAuth && o.Creds != nil {
			o.Creds.Invalidate(rec.TenantID, provider.Name())
		}
		if !class.Retryable() {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.Cfg.InitialBackoff
	expo.Multiplier = 2
	expo.RandomizationFactor = 0

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(o.Cfg.MaxAttempts)),
	)
}

func (o *Orchestrator) fail(ctx context.Context, rec *domain.DeliveryRecord, cause error) (*Result, error) {
	class := Classify(cause)
	log.Ctx(ctx).Warn().
		Err(cause).
		Str("delivery_id", rec.ID).
		Str("event_type", rec.EventType).
		Str("class", string(class)).
		Int("attempts", rec.Attempts).
		Msg("side effect failed")
	if err := o.Ledger.Fail(ctx, rec.ID, cause.Error()); err != nil {
		return nil, err
	}
	return &Result{LedgerID: rec.ID, EventID: rec.EventID, Degraded: true, Failure: cause.Error()}, nil
}
