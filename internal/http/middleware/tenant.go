// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides TenantAuth, the middleware that turns a bearer session
// token into a resolved tenant for every API request. Handlers read the
// result with TenantFrom / TenantID and never parse tokens themselves.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/tenant"
)

const (
	// tenantIDKey / tenantKey are the Gin context keys for the resolved
	// tenant. tenantIDKey holds the ID string (for logging and rate
	// limiting); tenantKey holds the *domain.Tenant.
	tenantIDKey = "tenantID"
	tenantKey   = "tenant"
)

// TenantID returns the resolved tenant ID, or "" before TenantAuth ran.
func TenantID(c *gin.Context) string {
	v, ok := c.Get(tenantIDKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// TenantFrom returns the resolved tenant stored by TenantAuth. The second
// return value is false on routes mounted outside the authenticated group.
func TenantFrom(c *gin.Context) (*domain.Tenant, bool) {
	v, ok := c.Get(tenantKey)
	if !ok {
		return nil, false
	}
	t, ok := v.(*domain.Tenant)
	return t, ok
}

// TenantAuth returns a middleware that extracts the bearer token from the
// Authorization header, resolves it through the tenant resolver (including
// the stale-token repair path), and aborts with 401 when no tenant can be
// established. The resolved tenant and its ID are stashed in the Gin
// context for handlers and downstream middleware.
func TenantAuth(r *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
		if token == "" || token == raw {
			unauthorized(c, "missing bearer token")
			return
		}

		t, err := r.Resolve(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, tenant.ErrInvalidToken):
				unauthorized(c, "invalid session token")
			case errors.Is(err, tenant.ErrUnknownTenant):
				unauthorized(c, "unknown tenant")
			default:
				LoggerFrom(c).Error().Err(err).Msg("tenant resolution")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"request_id": c.Writer.Header().Get("X-Request-ID"),
					"code":       "internal_error",
					"message":    "internal server error",
				})
			}
			return
		}

		c.Set(tenantIDKey, t.ID)
		c.Set(tenantKey, t)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
