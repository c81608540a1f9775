// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, security headers, request ids and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → Throttle → Auth → Handler
//
// Security headers run first so they appear on all responses including errors.
// The general throttle runs before auth to block floods before any bcrypt or
// database work. Field teams authenticate with a session bearer token; admins
// with an OIDC ID token or the static admin token.
package middleware

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/auth"
	"github.com/aspr-photos/intake/internal/auth/oidc"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/ratelimit"
)

// Context keys set by the auth middleware.
const (
	SessionKey    = "session"
	SessionIDKey  = "session_id"
	AdminKey      = "admin"
	AuthMethodKey = "auth_method"
)

// AdminTokenHeader carries the static admin token used by automation.
const AdminTokenHeader = "X-Admin-Token"

// SessionAuthenticator resolves a bearer token to a live upload session.
// *sessions.Authority satisfies it.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// SessionAuthMiddleware requires a valid session bearer token.
func SessionAuthMiddleware(authenticator SessionAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			apierrors.Respond(c, apierrors.Authentication("Unauthorized"))
			return
		}

		session, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			apierrors.Respond(c, err)
			return
		}

		c.Set(SessionKey, session)
		c.Set(SessionIDKey, session.ID)
		c.Set(AuthMethodKey, "session")
		c.Next()
	}
}

// SessionFromContext returns the session set by SessionAuthMiddleware.
func SessionFromContext(c *gin.Context) *models.Session {
	if v, ok := c.Get(SessionKey); ok {
		if s, ok := v.(*models.Session); ok {
			return s
		}
	}
	return nil
}

// AdminIdentity describes an authenticated administrator.
type AdminIdentity struct {
	Subject string
	Email   string
	Method  string
}

// PerformedBy is the actor name written to the audit log.
func (a *AdminIdentity) PerformedBy() string {
	if a == nil || a.Email == "" {
		return "admin"
	}
	return a.Email
}

// AdminFromContext returns the admin set by AdminAuthMiddleware.
func AdminFromContext(c *gin.Context) *AdminIdentity {
	if v, ok := c.Get(AdminKey); ok {
		if a, ok := v.(*AdminIdentity); ok {
			return a
		}
	}
	return nil
}

// IDTokenVerifier verifies admin ID tokens. *oidc.AdminVerifier satisfies it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.Admin, error)
}

// AdminAuthConfig wires the admin credential checks.
type AdminAuthConfig struct {
	// Token is the static admin token. Empty disables X-Admin-Token.
	Token string
	// Verifier checks OIDC ID tokens. Nil disables bearer auth for admins.
	Verifier IDTokenVerifier
	// Limiter counts failures under the admin-auth-fail action.
	Limiter *ratelimit.Limiter
	// Auditor, when set, records failed and rate limited attempts.
	Auditor Auditor
}

// Auditor records audit entries. *audit.Writer satisfies it.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// AdminAuthMiddleware accepts an OIDC ID token as a bearer credential or the
// static admin token. Failures spend the caller's admin-auth-fail budget, and
// a caller that is locked out is refused before any credential is checked.
func AdminAuthMiddleware(cfg AdminAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := c.ClientIP()

		if cfg.Limiter != nil {
			status, err := cfg.Limiter.Status(ctx, ratelimit.ActionAdminAuthFail, ip)
			if err != nil {
				slog.Error("admin auth rate limit check failed", "ip", ip, "error", err)
			} else if !status.Allowed {
				recordAdminFailure(c, cfg, "admin.auth_rate_limited", "Admin auth rate limit exceeded")
				apierrors.Respond(c, apierrors.RateLimited(status.RetryAfter, "Too many failed attempts. Try again later."))
				return
			}
		}

		if admin := authenticateAdmin(c, cfg); admin != nil {
			c.Set(AdminKey, admin)
			c.Set(AuthMethodKey, admin.Method)
			c.Next()
			return
		}

		if cfg.Limiter != nil {
			res, err := cfg.Limiter.Attempt(ctx, ratelimit.ActionAdminAuthFail, ip)
			if err != nil {
				slog.Error("admin auth rate limit update failed", "ip", ip, "error", err)
			} else if !res.Allowed {
				recordAdminFailure(c, cfg, "admin.auth_rate_limited", "Admin auth rate limit exceeded")
				apierrors.Respond(c, apierrors.RateLimited(res.RetryAfter, "Too many failed attempts. Try again later."))
				return
			}
		}
		recordAdminFailure(c, cfg, "admin.auth_failure", "No valid admin credential")
		apierrors.Respond(c, apierrors.Authentication("Unauthorized"))
	}
}

func recordAdminFailure(c *gin.Context, cfg AdminAuthConfig, action, reason string) {
	if cfg.Auditor == nil {
		return
	}
	cfg.Auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "auth",
		Action:      action,
		PerformedBy: "anonymous",
		IPAddress:   c.ClientIP(),
		Details:     map[string]any{"reason": reason},
	})
}

func authenticateAdmin(c *gin.Context, cfg AdminAuthConfig) *AdminIdentity {
	if provided := strings.TrimSpace(c.GetHeader(AdminTokenHeader)); provided != "" {
		if auth.CompareAdminToken(provided, cfg.Token) {
			return &AdminIdentity{Method: "admin_token"}
		}
		slog.Warn("rejected admin token", "ip", c.ClientIP())
		return nil
	}

	if cfg.Verifier == nil {
		return nil
	}
	raw, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		return nil
	}
	admin, err := cfg.Verifier.Verify(c.Request.Context(), raw)
	if err != nil {
		slog.Warn("rejected admin ID token", "ip", c.ClientIP(), "error", err)
		return nil
	}
	return &AdminIdentity{Subject: admin.Subject, Email: admin.Email, Method: "oidc"}
}
