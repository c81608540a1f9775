// stats.go implements handlers for the dashboard statistics and the audit log view.
package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/db/repositories"
)

// StatsSource is satisfied by *repositories.PhotoRepository.
type StatsSource interface {
	Stats(ctx context.Context) (*models.PhotoStats, error)
}

// AuditSource is satisfied by *repositories.AuditRepository.
type AuditSource interface {
	List(ctx context.Context, f repositories.AuditFilters, limit, offset int) ([]models.AuditLogEntry, error)
}

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	stats StatsSource
	audit AuditSource
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats StatsSource, audit AuditSource) *StatsHandler {
	return &StatsHandler{stats: stats, audit: audit}
}

// GetDashboardStats handles GET /api/admin/photos/stats: totals, per-status and
// per-incident counts and the most active teams.
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load dashboard stats", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// ListAuditLogs handles GET /api/admin/audit-logs?entityType=&entityId=&action=&limit=&offset=
func (h *StatsHandler) ListAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditPageSize)))
	if limit < 1 || limit > maxAuditPageSize {
		limit = defaultAuditPageSize
	}
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	var filters repositories.AuditFilters
	if v := c.Query("entityType"); v != "" {
		filters.EntityType = &v
	}
	if v := c.Query("entityId"); v != "" {
		filters.EntityID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}

	entries, err := h.audit.List(c.Request.Context(), filters, limit, offset)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("list audit logs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}
