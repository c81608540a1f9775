package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/aspr-photos/intake/internal/db/models"
)

var sessionCols = []string{
	"id", "pin_hash", "team_name", "created_at", "expires_at", "is_active", "last_used_at", "total_uploads",
}

func newSessionRepo(t *testing.T) (*SessionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewSessionRepository(db), mock
}

func TestSessionCreate(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	s := &models.Session{
		ID: "11111111-1111-1111-1111-111111111111", PinHash: "$2a$12$hash", TeamName: "Alpha Team",
		CreatedAt: now, ExpiresAt: now.Add(48 * time.Hour), IsActive: true,
	}
	mock.ExpectExec("INSERT INTO upload_sessions").
		WithArgs(s.ID, s.PinHash, s.TeamName, s.CreatedAt, s.ExpiresAt, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
}

func TestSessionGetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock := newSessionRepo(t)
		now := time.Now()
		mock.ExpectQuery("SELECT .* FROM upload_sessions WHERE id").
			WithArgs("sid").
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("sid", "hash", "Alpha", now, now.Add(time.Hour), true, nil, 3))

		s, err := repo.GetByID(context.Background(), "sid")
		if err != nil {
			t.Fatalf("GetByID() error: %v", err)
		}
		if s == nil || s.TeamName != "Alpha" || s.TotalUploads != 3 || s.LastUsedAt != nil {
			t.Errorf("GetByID() = %+v", s)
		}
	})

	t.Run("missing returns nil", func(t *testing.T) {
		repo, mock := newSessionRepo(t)
		mock.ExpectQuery("SELECT .* FROM upload_sessions WHERE id").
			WillReturnRows(sqlmock.NewRows(sessionCols))

		s, err := repo.GetByID(context.Background(), "nope")
		if err != nil || s != nil {
			t.Errorf("GetByID() = %v, %v; want nil, nil", s, err)
		}
	})
}

func TestSessionListLive(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	mock.ExpectQuery("WHERE is_active = true AND expires_at >").
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("a", "h1", "A", now, now.Add(time.Hour), true, nil, 0).
			AddRow("b", "h2", "B", now, now.Add(2*time.Hour), true, now, 5))

	sessions, err := repo.ListLive(context.Background(), now)
	if err != nil {
		t.Fatalf("ListLive() error: %v", err)
	}
	if len(sessions) != 2 || sessions[1].PinHash != "h2" {
		t.Errorf("ListLive() = %+v", sessions)
	}
}

func TestSessionSetActive(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		repo, mock := newSessionRepo(t)
		mock.ExpectExec("UPDATE upload_sessions SET is_active").
			WithArgs("sid", false).
			WillReturnResult(sqlmock.NewResult(0, 1))
		ok, err := repo.SetActive(context.Background(), "sid", false)
		if err != nil || !ok {
			t.Errorf("SetActive() = %v, %v", ok, err)
		}
	})

	t.Run("no such session", func(t *testing.T) {
		repo, mock := newSessionRepo(t)
		mock.ExpectExec("UPDATE upload_sessions SET is_active").
			WillReturnResult(sqlmock.NewResult(0, 0))
		ok, err := repo.SetActive(context.Background(), "sid", true)
		if err != nil || ok {
			t.Errorf("SetActive() = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newSessionRepo(t)
		mock.ExpectExec("UPDATE upload_sessions SET is_active").
			WillReturnError(errors.New("connection reset"))
		if _, err := repo.SetActive(context.Background(), "sid", true); err == nil {
			t.Error("expected error")
		}
	})
}

func TestSessionTouchAndIncrement(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	mock.ExpectExec("UPDATE upload_sessions SET last_used_at").
		WithArgs("sid", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("total_uploads = total_uploads \\+ 1").
		WithArgs("sid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.TouchLastUsed(context.Background(), "sid", now); err != nil {
		t.Fatal(err)
	}
	if err := repo.IncrementUploads(context.Background(), "sid"); err != nil {
		t.Fatal(err)
	}
}

func TestSessionListSummaries(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	cols := append(append([]string{}, sessionCols...), "photo_count", "total_size")
	mock.ExpectQuery("LEFT JOIN photos").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a", "h", "Live", now, now.Add(time.Hour), true, nil, 2, 2, 4096).
			AddRow("b", "h", "Old", now, now.Add(-time.Hour), true, nil, 0, 0, 0).
			AddRow("c", "h", "Gone", now, now.Add(time.Hour), false, nil, 1, 1, 100))

	rows, err := repo.ListSummaries(context.Background())
	if err != nil {
		t.Fatalf("ListSummaries() error: %v", err)
	}
	want := []string{models.SessionStatusActive, models.SessionStatusExpired, models.SessionStatusRevoked}
	for i, w := range want {
		if rows[i].State != w {
			t.Errorf("row %d status = %q, want %q", i, rows[i].State, w)
		}
	}
	if rows[0].PhotoCount != 2 || rows[0].TotalSize != 4096 {
		t.Errorf("counters = %d/%d", rows[0].PhotoCount, rows[0].TotalSize)
	}
}
