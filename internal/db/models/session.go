// Package models - session.go defines the upload session record issued to a
// field team together with the admin list view that adds photo counters.
package models

import "time"

// Session status values reported by SessionSummary.Status.
const (
	SessionStatusActive  = "active"
	SessionStatusExpired = "expired"
	SessionStatusRevoked = "revoked"
)

// Session is a PIN-bearing upload session. ExpiresAt is fixed at creation.
type Session struct {
	ID           string     `db:"id" json:"id"`
	PinHash      string     `db:"pin_hash" json:"-"`
	TeamName     string     `db:"team_name" json:"teamName"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expiresAt"`
	IsActive     bool       `db:"is_active" json:"isActive"`
	LastUsedAt   *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	TotalUploads int64      `db:"total_uploads" json:"totalUploads"`
}

// IsLive reports whether the session accepts PINs and uploads at now.
func (s *Session) IsLive(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// Status classifies the session for the admin view. Revocation wins over expiry.
func (s *Session) Status(now time.Time) string {
	switch {
	case !s.IsActive:
		return SessionStatusRevoked
	case !now.Before(s.ExpiresAt):
		return SessionStatusExpired
	default:
		return SessionStatusActive
	}
}

// SessionSummary is a session joined with its photo counters.
type SessionSummary struct {
	Session
	PhotoCount int64  `db:"photo_count" json:"photoCount"`
	TotalSize  int64  `db:"total_size" json:"totalSize"`
	State      string `db:"-" json:"status"`
}
