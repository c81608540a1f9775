package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/aspr-photos/intake/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newStatsRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	h := NewStatsHandler(repositories.NewPhotoRepository(sqlxDB), repositories.NewAuditRepository(sqlxDB))

	r := gin.New()
	r.GET("/api/admin/photos/stats", h.GetDashboardStats)
	r.GET("/api/admin/audit-logs", h.ListAuditLogs)
	return mock, r
}

// ---------------------------------------------------------------------------
// GetDashboardStats tests
// ---------------------------------------------------------------------------

func TestGetDashboardStats_Success(t *testing.T) {
	mock, r := newStatsRouter(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS count").
		WillReturnRows(sqlmock.NewRows([]string{"count", "size", "today"}).AddRow(int64(12), int64(9000), int64(4)))
	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("active", int64(10)).AddRow("flagged", int64(2)))
	mock.ExpectQuery("FROM upload_sessions").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("unassigned").
		WillReturnRows(sqlmock.NewRows([]string{"incident_id", "photo_count", "total_size"}).
			AddRow("HU-2026", int64(9), int64(7000)).
			AddRow("unassigned", int64(3), int64(2000)))
	mock.ExpectQuery("team_name").
		WillReturnRows(sqlmock.NewRows([]string{"team_name", "photo_count"}).AddRow("Team Alpha", int64(8)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/photos/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["totalPhotos"] != float64(12) || resp["activeSessions"] != float64(3) || resp["uploadsToday"] != float64(4) {
		t.Errorf("totals = %v", resp)
	}
	byStatus, _ := resp["byStatus"].(map[string]interface{})
	if byStatus["flagged"] != float64(2) {
		t.Errorf("byStatus = %v", byStatus)
	}
	if incidents, _ := resp["incidents"].([]interface{}); len(incidents) != 2 {
		t.Errorf("incidents = %v", resp["incidents"])
	}
	if teams, _ := resp["topTeams"].([]interface{}); len(teams) != 1 {
		t.Errorf("topTeams = %v", resp["topTeams"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetDashboardStats_DBError(t *testing.T) {
	mock, r := newStatsRouter(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/photos/stats", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListAuditLogs tests
// ---------------------------------------------------------------------------

var auditCols = []string{"id", "entity_type", "entity_id", "action", "performed_by", "ip_address", "details", "created_at"}

func TestListAuditLogs_Filters(t *testing.T) {
	mock, r := newStatsRouter(t)
	mock.ExpectQuery("FROM admin_audit_log").
		WithArgs("session", "pin.created", 20, 40).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow(int64(7), "session", "9c1d4e2f", "pin.created", "lead@example.org", "192.0.2.44", []byte(`{"pinLast2":"72"}`), time.Now()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit-logs?entityType=session&action=pin.created&limit=20&offset=40", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	entries, _ := resp["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("entries = %v", resp["entries"])
	}
	e := entries[0].(map[string]interface{})
	if e["action"] != "pin.created" || e["details"].(map[string]interface{})["pinLast2"] != "72" {
		t.Errorf("entry = %v", e)
	}
	if resp["limit"] != float64(20) || resp["offset"] != float64(40) {
		t.Errorf("paging = %v/%v", resp["limit"], resp["offset"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListAuditLogs_PagingBounds(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"?limit=0", 50, 0},
		{"?limit=500", 50, 0},
		{"?limit=abc&offset=-3", 50, 0},
		{"?limit=200&offset=5", 200, 5},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			mock, r := newStatsRouter(t)
			mock.ExpectQuery("FROM admin_audit_log").
				WithArgs(tt.wantLimit, tt.wantOffset).
				WillReturnRows(sqlmock.NewRows(auditCols))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit-logs"+tt.query, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
			}
			if entries, ok := getJSON(w)["entries"].([]interface{}); !ok || len(entries) != 0 {
				t.Errorf("entries = %v, want empty array", getJSON(w)["entries"])
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestListAuditLogs_DBError(t *testing.T) {
	mock, r := newStatsRouter(t)
	mock.ExpectQuery("FROM admin_audit_log").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/admin/audit-logs", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
