// Package models - audit_log.go defines the append-only admin audit log entry.
package models

import (
	"encoding/json"
	"time"
)

// AuditLogEntry records one security-relevant action. Rows are never updated
// or deleted by the application.
type AuditLogEntry struct {
	ID          int64           `db:"id" json:"id"`
	EntityType  string          `db:"entity_type" json:"entityType"` // "session", "photo", "tag", "bulk"
	EntityID    *string         `db:"entity_id" json:"entityId,omitempty"`
	Action      string          `db:"action" json:"action"` // "pin.created", "photo.uploaded", "bulk.delete"
	PerformedBy string          `db:"performed_by" json:"performedBy"`
	IPAddress   *string         `db:"ip_address" json:"ipAddress,omitempty"`
	Details     json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}
