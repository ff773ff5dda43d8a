// Circuit-breaker registry.
//
// One breaker exists per (tenant, provider) key so a single tenant's
// provider outage short-circuits only that tenant's calls; other tenants
// sharing the process keep dispatching. State is in-memory only and
// rebuilds from zero on restart; the ledger, not the breaker, is the
// durable record.
package outbound

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "outbound_breaker_state",
		Help: "Circuit breaker state per tenant and provider (0=closed, 1=half-open, 2=open).",
	},
	[]string{"tenant", "provider"},
)

func init() {
	prometheus.MustRegister(breakerState)
}

// BreakerSnapshot is a point-in-time view of one breaker, exposed by the
// integrations health endpoint.
type BreakerSnapshot struct {
	TenantID            string
	Provider            string
	State               string // closed|open|half_open
	ConsecutiveFailures uint32
	OpenedAt            *time.Time
}

// breakerRegistry lazily creates and stores breakers per key. Access is
// per-key after the initial creation race; no operation holds a lock across
// a provider call.
type breakerRegistry struct {
	failures uint32
	cooldown time.Duration

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
	openedAt map[string]time.Time
	tenants  map[string]string // key → tenant
	provider map[string]string // key → provider
}

func newBreakerRegistry(failures int, cooldown time.Duration) *breakerRegistry {
	return &breakerRegistry{
		failures: uint32(failures),
		cooldown: cooldown,
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
		openedAt: make(map[string]time.Time),
		tenants:  make(map[string]string),
		provider: make(map[string]string),
	}
}

func breakerKey(tenantID, provider string) string { return tenantID + ":" + provider }

// get returns the breaker for (tenantID, provider), creating it on first
// use. Half-open admits a single trial call; success closes the breaker.
func (r *breakerRegistry) get(tenantID, provider string) *gobreaker.CircuitBreaker[string] {
	key := breakerKey(tenantID, provider)

	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[key]; ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1, // one trial call while half-open
		Timeout:     r.cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= r.failures
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			r.noteState(name, to)
		},
	})
	r.breakers[key] = cb
	r.tenants[key] = tenantID
	r.provider[key] = provider
	return cb
}

func (r *breakerRegistry) noteState(key string, to gobreaker.State) {
	// Called from gobreaker with its internal mutex held; only touch our own.
	r.mu.Lock()
	if to == gobreaker.StateOpen {
		r.openedAt[key] = time.Now().UTC()
	} else {
		delete(r.openedAt, key)
	}
	tenant, provider := r.tenants[key], r.provider[key]
	r.mu.Unlock()

	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	breakerState.WithLabelValues(tenant, provider).Set(v)
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// snapshots returns the current view of every breaker seen so far.
// cb.State() may fire OnStateChange (open expiring into half-open), which
// takes the registry lock, so it must be called with the lock released.
func (r *breakerRegistry) snapshots() []BreakerSnapshot {
	type entry struct {
		key string
		cb  *gobreaker.CircuitBreaker[string]
	}
	r.mu.RLock()
	entries := make([]entry, 0, len(r.breakers))
	for key, cb := range r.breakers {
		entries = append(entries, entry{key: key, cb: cb})
	}
	r.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(entries))
	for _, e := range entries {
		state := e.cb.State()
		counts := e.cb.Counts()

		r.mu.RLock()
		snap := BreakerSnapshot{
			TenantID:            r.tenants[e.key],
			Provider:            r.provider[e.key],
			State:               stateLabel(state),
			ConsecutiveFailures: counts.ConsecutiveFailures,
		}
		if t, ok := r.openedAt[e.key]; ok {
			opened := t
			snap.OpenedAt = &opened
		}
		r.mu.RUnlock()
		out = append(out, snap)
	}
	return out
}
