// Delivery-ledger HTTP handlers.
//
// This file exposes the operational endpoints over the delivery ledger:
//   - GET  /deliveries            (list failed / dead-letter rows, paginated)
//   - POST /deliveries/:id/retry  (re-drive a dead-letter row)
//
// These exist for operators and tenant dashboards: a booking whose
// confirmation message dead-lettered is still a valid booking, and this is
// where the stuck side effect gets inspected and re-driven.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voicebook/go-booking-backend/internal/domain"
	"github.com/voicebook/go-booking-backend/internal/http/middleware"
	"github.com/voicebook/go-booking-backend/internal/services"
	"github.com/voicebook/go-booking-backend/internal/utils"
)

// DeliveryLedgerService defines the ledger queries consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type DeliveryLedgerService interface {
	// ListFailed returns a page of failed/dead-letter rows and the total.
	ListFailed(ctx context.Context, tenantID string, statuses []string, page, pageSize int) ([]domain.DeliveryRecord, int64, error)
	// Retry re-enqueues a dead-letter row as pending.
	Retry(ctx context.Context, tenantID, id string) error
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// DeliveryView is the wire shape of one ledger row. Payload is omitted; it
// may carry contact PII and is not needed to triage a failed delivery.
type DeliveryView struct {
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	EventID       string `json:"event_id"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	ErrorMessage  string `json:"error_message,omitempty"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	JobID         string `json:"job_id,omitempty"`
}

// ListDeliveriesResponse contains a page of ledger rows and pagination
// metadata.
type ListDeliveriesResponse struct {
	Deliveries []DeliveryView `json:"deliveries"`
	Pagination Pagination     `json:"pagination"`
}

// clampDeliveryPagination parses page/page_size query parameters with sane
// defaults and caps.
func clampDeliveryPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListDeliveries returns the tenant's failed and dead-letter ledger rows.
// The optional status query filters to a comma-separated subset of
// failed|dead_letter.
func (h *Handlers) ListDeliveries(c *gin.Context) {
	ctx := c.Request.Context()

	t, okT := middleware.TenantFrom(c)
	if !okT {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant not resolved")
		return
	}

	var statuses []string
	for _, s := range strings.Split(c.Query("status"), ",") {
		switch s = strings.TrimSpace(s); s {
		case domain.DeliveryFailed, domain.DeliveryDeadLetter:
			statuses = append(statuses, s)
		case "":
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be failed or dead_letter")
			return
		}
	}

	page, pageSize := clampDeliveryPagination(c)

	items, total, err := h.delSvc.ListFailed(ctx, t.ID, statuses, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "ledger query failed")
		return
	}

	views := make([]DeliveryView, 0, len(items))
	for _, d := range items {
		v := DeliveryView{
			ID:           d.ID,
			EventType:    d.EventType,
			EventID:      d.EventID,
			Status:       d.Status,
			Attempts:     d.Attempts,
			ErrorMessage: d.ErrorMessage,
			JobID:        d.JobID,
		}
		if d.NextAttemptAt != nil {
			v.NextAttemptAt = d.NextAttemptAt.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListDeliveriesResponse{
		Deliveries: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	})
}

// RetryDelivery re-enqueues a dead-letter row for dispatch. Responds 202:
// the dispatcher picks the row up on its next sweep, not inline.
func (h *Handlers) RetryDelivery(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "delivery id must be a UUID")
		return
	}

	t, okT := middleware.TenantFrom(c)
	if !okT {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant not resolved")
		return
	}

	switch err := h.delSvc.Retry(ctx, t.ID, id); err {
	case nil:
		c.Status(http.StatusAccepted)
	case services.ErrDeliveryNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "delivery not found")
	case services.ErrNotDeadLetter:
		fail(c, http.StatusConflict, ErrCodeNotDeadLetter, "delivery is not in dead_letter state")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "retry failed")
	}
}
