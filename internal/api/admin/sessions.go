// sessions.go implements handlers for issuing PINs and managing field team
// upload sessions.
package admin

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/middleware"
	"github.com/aspr-photos/intake/internal/ratelimit"
	"github.com/aspr-photos/intake/internal/sessions"
	"github.com/aspr-photos/intake/internal/validation"
)

// SessionAuthority issues and manages sessions. *sessions.Authority satisfies it.
type SessionAuthority interface {
	Create(ctx context.Context, teamName string) (*sessions.Created, error)
	List(ctx context.Context) ([]models.SessionSummary, error)
	Revoke(ctx context.Context, id string) (*models.Session, error)
	Reactivate(ctx context.Context, id string) (*models.Session, error)
}

// SessionsHandler handles session-related API requests
type SessionsHandler struct {
	authority SessionAuthority
	auditor   middleware.Auditor
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(authority SessionAuthority, auditor middleware.Auditor) *SessionsHandler {
	return &SessionsHandler{authority: authority, auditor: auditor}
}

// CreateSessionRequest is the optional body of POST /api/auth/create-session.
type CreateSessionRequest struct {
	TeamName string `json:"teamName" binding:"omitempty,teamname"`
}

// CreateSession handles POST /api/auth/create-session. The plaintext PIN
// appears in this response and nowhere else.
func (h *SessionsHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.Respond(c, apierrors.Validation(validation.BindingMessage(err)))
		return
	}

	created, err := h.authority.Create(c.Request.Context(), req.TeamName)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	admin := middleware.AdminFromContext(c)
	authMethod := ""
	if admin != nil {
		authMethod = admin.Method
	}
	h.auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "session",
		EntityID:    created.ID,
		Action:      "pin.created",
		PerformedBy: admin.PerformedBy(),
		IPAddress:   c.ClientIP(),
		Details: map[string]any{
			"teamName":   created.TeamName,
			"pinLast2":   created.PIN[len(created.PIN)-2:],
			"expiresAt":  created.ExpiresAt,
			"authMethod": authMethod,
		},
	})

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, created)
}

// PINCreationDenied records a refused session creation. It is passed to
// middleware.AttemptLimit for the pin-creation budget.
func (h *SessionsHandler) PINCreationDenied(c *gin.Context, res ratelimit.Result) {
	h.auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "session",
		Action:      "pin.rate_limited",
		PerformedBy: middleware.AdminFromContext(c).PerformedBy(),
		IPAddress:   c.ClientIP(),
		Details:     map[string]any{"retryAfter": res.RetryAfterSeconds()},
	})
}

// ListSessions handles GET /api/admin/sessions.
func (h *SessionsHandler) ListSessions(c *gin.Context) {
	rows, err := h.authority.List(c.Request.Context())
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": rows})
}

// UpdateSessionRequest is the body of PATCH /api/admin/sessions/:id.
type UpdateSessionRequest struct {
	Action string `json:"action" binding:"required"`
}

// UpdateSession handles PATCH /api/admin/sessions/:id (revoke or reactivate).
func (h *SessionsHandler) UpdateSession(c *gin.Context) {
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Respond(c, apierrors.Validation("Invalid action"))
		return
	}

	id := c.Param("id")
	var (
		session *models.Session
		err     error
		action  string
		message string
	)
	switch req.Action {
	case "revoke":
		session, err = h.authority.Revoke(c.Request.Context(), id)
		action, message = "session.revoked", "Session revoked"
	case "reactivate":
		session, err = h.authority.Reactivate(c.Request.Context(), id)
		action, message = "session.reactivated", "Session reactivated"
	default:
		apierrors.Respond(c, apierrors.Validation("Invalid action"))
		return
	}
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	h.auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "session",
		EntityID:    session.ID,
		Action:      action,
		PerformedBy: middleware.AdminFromContext(c).PerformedBy(),
		IPAddress:   c.ClientIP(),
		Details:     map[string]any{"teamName": session.TeamName},
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "session": session})
}
