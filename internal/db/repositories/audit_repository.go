// audit_repository.go implements AuditRepository. The audit table is
// append-only: this repository exposes inserts and reads, never updates or deletes.
package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aspr-photos/intake/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	EntityType *string
	EntityID   *string
	Action     *string
}

// Insert appends one entry and fills in its id and timestamp.
func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var details interface{}
	if len(e.Details) > 0 {
		details = []byte(e.Details)
	}

	query := `
		INSERT INTO admin_audit_log (entity_type, entity_id, action, performed_by, ip_address, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	return r.db.QueryRowxContext(ctx, query,
		e.EntityType, e.EntityID, e.Action, e.PerformedBy, e.IPAddress, details, e.CreatedAt,
	).Scan(&e.ID)
}

// List returns entries matching filters, newest first.
func (r *AuditRepository) List(ctx context.Context, f AuditFilters, limit, offset int) ([]models.AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, performed_by, ip_address,
		       COALESCE(details, '{}'::jsonb) AS details, created_at
		FROM admin_audit_log
		WHERE 1=1`
	var args []interface{}
	if f.EntityType != nil {
		query += " AND entity_type = ?"
		args = append(args, *f.EntityType)
	}
	if f.EntityID != nil {
		query += " AND entity_id = ?"
		args = append(args, *f.EntityID)
	}
	if f.Action != nil {
		query += " AND action = ?"
		args = append(args, *f.Action)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	entries := []models.AuditLogEntry{}
	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return entries, nil
}
