// Package field serves the routes used by field teams: exchanging a PIN for a
// session token, uploading photos, listing the team's own photos and deleting
// them.
package field

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/middleware"
	"github.com/aspr-photos/intake/internal/ratelimit"
	"github.com/aspr-photos/intake/internal/sessions"
	"github.com/aspr-photos/intake/internal/telemetry"
	"github.com/aspr-photos/intake/internal/validation"
)

// PINValidator exchanges a PIN for a session token. *sessions.Authority satisfies it.
type PINValidator interface {
	Validate(ctx context.Context, pin string) (*sessions.Validated, error)
}

// AuthHandler handles the field team PIN exchange.
type AuthHandler struct {
	sessions PINValidator
	limiter  *ratelimit.Limiter
	auditor  middleware.Auditor
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(sessions PINValidator, limiter *ratelimit.Limiter, auditor middleware.Auditor) *AuthHandler {
	return &AuthHandler{sessions: sessions, limiter: limiter, auditor: auditor}
}

type validatePINRequest struct {
	PIN string `json:"pin" binding:"required,pin"`
}

// ValidatePIN handles POST /api/auth/validate-pin.
//
// The attempt is charged against the caller's pin-attempt budget before the
// PIN is looked at, so a locked-out caller is refused even with a correct PIN.
func (h *AuthHandler) ValidatePIN(c *gin.Context) {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	limited := true
	res, err := h.limiter.Attempt(ctx, ratelimit.ActionPINAttempt, ip)
	if err != nil {
		slog.Error("pin attempt limiter failed", "ip", ip, "error", err)
		limited = false
	} else if !res.Allowed {
		telemetry.PINValidationsTotal.WithLabelValues("rate_limited").Inc()
		secs := res.RetryAfterSeconds()
		h.record(c, "pin.auth_rate_limited", "", "anonymous", map[string]any{"retryAfter": secs})
		apierrors.Respond(c, apierrors.RateLimited(res.RetryAfter,
			fmt.Sprintf("Too many attempts. Try again in %d seconds.", secs)))
		return
	}

	var req validatePINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.PINValidationsTotal.WithLabelValues("invalid").Inc()
		msg := validation.BindingMessage(err)
		h.record(c, "pin.auth_failure", "", "anonymous", map[string]any{"reason": msg})
		apierrors.Respond(c, apierrors.Validation(msg))
		return
	}

	v, err := h.sessions.Validate(ctx, req.PIN)
	if err != nil {
		if !errors.Is(err, sessions.ErrInvalidPIN) {
			apierrors.Respond(c, err)
			return
		}
		details := map[string]any{"reason": "Invalid or expired PIN"}
		msg := "Invalid or expired PIN"
		if limited {
			details["remainingAttempts"] = res.Remaining
			msg = fmt.Sprintf("Invalid or expired PIN (%d attempts remaining)", res.Remaining)
		}
		h.record(c, "pin.auth_failure", "", "anonymous", details)
		apierrors.Respond(c, apierrors.Authentication(msg))
		return
	}

	h.record(c, "pin.auth_success", v.SessionID, "pin:"+v.SessionID, map[string]any{"teamName": v.TeamName})
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, v)
}

func (h *AuthHandler) record(c *gin.Context, action, entityID, performedBy string, details map[string]any) {
	h.auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "auth",
		EntityID:    entityID,
		Action:      action,
		PerformedBy: performedBy,
		IPAddress:   c.ClientIP(),
		Details:     details,
	})
}
