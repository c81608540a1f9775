package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/auth/oidc"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/ratelimit"
)

type fakeSessions struct {
	sessions map[string]*models.Session
	err      error
}

func (f *fakeSessions) Authenticate(_ context.Context, token string) (*models.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.sessions[token]; ok {
		return s, nil
	}
	return nil, apierrors.Authentication("Invalid or expired session")
}

type fakeVerifier struct {
	tokens map[string]*oidc.Admin
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*oidc.Admin, error) {
	if a, ok := f.tokens[raw]; ok {
		return a, nil
	}
	return nil, errors.New("token signature invalid")
}

func newSessionRouter(authenticator SessionAuthenticator) *gin.Engine {
	r := gin.New()
	r.Use(SessionAuthMiddleware(authenticator))
	r.GET("/", func(c *gin.Context) {
		s := SessionFromContext(c)
		c.String(http.StatusOK, s.ID+"|"+c.GetString(SessionIDKey))
	})
	return r
}

func doRequest(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionAuthMiddleware(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*models.Session{
		"good-token": {ID: "sess-1", TeamName: "Team Alpha"},
	}}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer good-token", http.StatusOK, "sess-1|sess-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good-token", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer other", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := doRequest(newSessionRouter(sessions), headers)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSessionAuthMiddleware_StoreFailureIs500(t *testing.T) {
	sessions := &fakeSessions{err: apierrors.Internal("load session", errors.New("connection refused"))}
	w := doRequest(newSessionRouter(sessions), map[string]string{"Authorization": "Bearer x"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := w.Body.String(); body != `{"error":"Internal server error"}` {
		t.Errorf("body = %s, leaks store detail", body)
	}
}

func newAdminLimiter(maxAttempts int) *ratelimit.Limiter {
	store := ratelimit.NewMemoryStore(time.Hour)
	return ratelimit.New(store, map[ratelimit.Action]ratelimit.Policy{
		ratelimit.ActionAdminAuthFail: {MaxAttempts: maxAttempts, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
	})
}

func newAdminRouter(cfg AdminAuthConfig) *gin.Engine {
	r := gin.New()
	r.Use(AdminAuthMiddleware(cfg))
	r.GET("/", func(c *gin.Context) {
		admin := AdminFromContext(c)
		c.String(http.StatusOK, admin.Method+"|"+admin.PerformedBy())
	})
	return r
}

func TestAdminAuthMiddleware_Credentials(t *testing.T) {
	cfg := AdminAuthConfig{
		Token: "adm_secret",
		Verifier: &fakeVerifier{tokens: map[string]*oidc.Admin{
			"id-token": {Subject: "sub-1", Email: "lead@example.org"},
		}},
		Limiter: newAdminLimiter(5),
	}

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{"admin token", map[string]string{AdminTokenHeader: "adm_secret"}, http.StatusOK, "admin_token|admin"},
		{"oidc token", map[string]string{"Authorization": "Bearer id-token"}, http.StatusOK, "oidc|lead@example.org"},
		{"wrong admin token", map[string]string{AdminTokenHeader: "adm_wrong"}, http.StatusUnauthorized, ""},
		{"wrong admin token ignores bearer", map[string]string{AdminTokenHeader: "nope", "Authorization": "Bearer id-token"}, http.StatusUnauthorized, ""},
		{"invalid id token", map[string]string{"Authorization": "Bearer forged"}, http.StatusUnauthorized, ""},
		{"no credentials", nil, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(newAdminRouter(cfg), tt.headers)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestAdminAuthMiddleware_EmptyConfiguredTokenNeverMatches(t *testing.T) {
	r := newAdminRouter(AdminAuthConfig{})
	w := doRequest(r, map[string]string{AdminTokenHeader: "anything"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAdminAuthMiddleware_LocksOutAfterRepeatedFailures(t *testing.T) {
	r := newAdminRouter(AdminAuthConfig{Token: "adm_secret", Limiter: newAdminLimiter(3)})
	bad := map[string]string{AdminTokenHeader: "adm_wrong"}

	for i := 1; i <= 3; i++ {
		if w := doRequest(r, bad); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, w.Code)
		}
	}

	w := doRequest(r, bad)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("attempt 4: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on lockout")
	}

	// The correct token is refused while the caller is locked out.
	w = doRequest(r, map[string]string{AdminTokenHeader: "adm_secret"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("valid token during lockout: status = %d, want 429", w.Code)
	}
}

func TestAdminIdentity_PerformedBy(t *testing.T) {
	var nilAdmin *AdminIdentity
	if got := nilAdmin.PerformedBy(); got != "admin" {
		t.Errorf("nil PerformedBy = %q, want admin", got)
	}
	if got := (&AdminIdentity{Email: "a@b.org"}).PerformedBy(); got != "a@b.org" {
		t.Errorf("PerformedBy = %q, want a@b.org", got)
	}
}

func TestFromContext_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if SessionFromContext(c) != nil {
		t.Error("SessionFromContext on empty context should be nil")
	}
	if AdminFromContext(c) != nil {
		t.Error("AdminFromContext on empty context should be nil")
	}
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAuditor) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

func TestAdminAuthMiddleware_AuditsFailures(t *testing.T) {
	auditor := &recordingAuditor{}
	r := newAdminRouter(AdminAuthConfig{Token: "adm_secret", Limiter: newAdminLimiter(1), Auditor: auditor})
	bad := map[string]string{AdminTokenHeader: "adm_wrong"}

	doRequest(r, bad)
	doRequest(r, bad)
	doRequest(r, map[string]string{AdminTokenHeader: "adm_secret"})

	want := []string{"admin.auth_failure", "admin.auth_rate_limited", "admin.auth_rate_limited"}
	got := auditor.actions()
	if len(got) != len(want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit action %d = %q, want %q", i, got[i], want[i])
		}
	}
	if ip := auditor.entries[0].IPAddress; ip != "203.0.113.9" {
		t.Errorf("audit IP = %q, want 203.0.113.9", ip)
	}
}
