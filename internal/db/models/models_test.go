package models

import (
	"testing"
	"time"
)

func TestSession_Status(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		active  bool
		expires time.Time
		want    string
		live    bool
	}{
		{"active", true, now.Add(time.Hour), SessionStatusActive, true},
		{"expired", true, now.Add(-time.Second), SessionStatusExpired, false},
		{"expires exactly now", true, now, SessionStatusExpired, false},
		{"revoked", false, now.Add(time.Hour), SessionStatusRevoked, false},
		{"revoked and expired", false, now.Add(-time.Hour), SessionStatusRevoked, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{IsActive: tt.active, ExpiresAt: tt.expires}
			if got := s.Status(now); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
			if got := s.IsLive(now); got != tt.live {
				t.Errorf("IsLive() = %v, want %v", got, tt.live)
			}
		})
	}
}

func TestValidPhotoStatus(t *testing.T) {
	for _, s := range []string{"active", "reviewed", "flagged", "archived"} {
		if !ValidPhotoStatus(s) {
			t.Errorf("ValidPhotoStatus(%q) = false", s)
		}
	}
	for _, s := range []string{"", "deleted", "ACTIVE"} {
		if ValidPhotoStatus(s) {
			t.Errorf("ValidPhotoStatus(%q) = true", s)
		}
	}
}
