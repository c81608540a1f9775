// session_repository.go implements SessionRepository, the persistence for PIN
// upload sessions and the per-session counters shown in the admin view.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aspr-photos/intake/internal/db/models"
)

// SessionRepository handles upload session database operations
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, pin_hash, team_name, created_at, expires_at, is_active, last_used_at, total_uploads`

// Create inserts a new session. expires_at is never written again after this.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO upload_sessions (id, pin_hash, team_name, created_at, expires_at, is_active, total_uploads)
		VALUES ($1, $2, $3, $4, $5, $6, 0)`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.PinHash, s.TeamName, s.CreatedAt, s.ExpiresAt, s.IsActive)
	return err
}

// GetByID returns the session, or nil when it does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := r.db.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListLive returns every active session whose expiry is after now, oldest first.
func (r *SessionRepository) ListLive(ctx context.Context, now time.Time) ([]models.Session, error) {
	var sessions []models.Session
	query := `SELECT ` + sessionColumns + `
		FROM upload_sessions
		WHERE is_active = true AND expires_at > $1
		ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &sessions, query, now); err != nil {
		return nil, err
	}
	return sessions, nil
}

// TouchLastUsed records a successful PIN validation.
func (r *SessionRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE upload_sessions SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

// SetActive flips is_active. It reports false when no session has that id.
func (r *SessionRepository) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE upload_sessions SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementUploads bumps the monotonic upload counter.
func (r *SessionRepository) IncrementUploads(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE upload_sessions SET total_uploads = total_uploads + 1, last_used_at = NOW() WHERE id = $1`, id)
	return err
}

// ListSummaries returns all sessions, newest first, with photo counts and bytes.
func (r *SessionRepository) ListSummaries(ctx context.Context) ([]models.SessionSummary, error) {
	query := `
		SELECT s.id, s.pin_hash, s.team_name, s.created_at, s.expires_at, s.is_active,
		       s.last_used_at, s.total_uploads,
		       COUNT(p.id) AS photo_count,
		       COALESCE(SUM(p.file_size), 0) AS total_size
		FROM upload_sessions s
		LEFT JOIN photos p ON p.session_id = s.id
		GROUP BY s.id
		ORDER BY s.created_at DESC`

	var rows []models.SessionSummary
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range rows {
		rows[i].State = rows[i].Status(now)
	}
	return rows, nil
}
