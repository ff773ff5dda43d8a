// Health HTTP handlers.
//
// This file exposes liveness and integration health:
//   - GET /health               (process liveness)
//   - GET /health/integrations  (per-(tenant,provider) breaker view)
//
// The integrations view is advisory. A critical entry means new side
// effects for that pair will be registered but not dispatched until the
// breaker cools down; bookings themselves are unaffected.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voicebook/go-booking-backend/internal/outbound"
)

// IntegrationsHealth supplies the breaker snapshots backing the
// integrations health endpoint. Implemented by outbound.Orchestrator.
type IntegrationsHealth interface {
	Health() []outbound.BreakerSnapshot
}

// IntegrationStatus is the wire shape of one breaker entry.
type IntegrationStatus struct {
	TenantID            string `json:"tenant_id"`
	Provider            string `json:"provider"`
	Status              string `json:"status"` // healthy|degraded|critical
	BreakerState        string `json:"breaker_state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	OpenedAt            string `json:"opened_at,omitempty"`
	Recommendation      string `json:"recommendation,omitempty"`
}

// IntegrationsResponse is the envelope for GET /health/integrations.
type IntegrationsResponse struct {
	Integrations []IntegrationStatus `json:"integrations"`
}

// Health reports process liveness.
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// Integrations reports the current breaker state for every
// (tenant, provider) pair seen since startup.
func (h *Handlers) Integrations(c *gin.Context) {
	if h.health == nil {
		ok(c, http.StatusOK, IntegrationsResponse{Integrations: []IntegrationStatus{}})
		return
	}

	snaps := h.health.Health()
	out := make([]IntegrationStatus, 0, len(snaps))
	for _, s := range snaps {
		st := IntegrationStatus{
			TenantID:            s.TenantID,
			Provider:            s.Provider,
			BreakerState:        s.State,
			ConsecutiveFailures: s.ConsecutiveFailures,
		}
		switch s.State {
		case "open":
			st.Status = "critical"
			st.Recommendation = "provider is failing; deliveries will resume after cooldown"
		case "half_open":
			st.Status = "degraded"
			st.Recommendation = "trial call in progress"
		default:
			if s.ConsecutiveFailures > 0 {
				st.Status = "degraded"
				st.Recommendation = "recent delivery failures; breaker opens if they continue"
			} else {
				st.Status = "healthy"
			}
		}
		if s.OpenedAt != nil {
			st.OpenedAt = s.OpenedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, st)
	}
	ok(c, http.StatusOK, IntegrationsResponse{Integrations: out})
}
