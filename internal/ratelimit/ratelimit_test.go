package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/aspr-photos/intake/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "pin-attempt:203.0.113.9", Key(ActionPINAttempt, "203.0.113.9"))
	assert.Equal(t, "admin-auth-fail:::1", Key(ActionAdminAuthFail, "::1"))
}

func TestPoliciesFromConfig(t *testing.T) {
	cfg := config.RateLimitsConfig{
		PinAttempt:    config.AttemptPolicyConfig{MaxAttempts: 5, Window: time.Minute, Lockout: 15 * time.Minute},
		AdminAuthFail: config.AttemptPolicyConfig{MaxAttempts: 3, Window: time.Minute, Lockout: 30 * time.Minute},
		PinCreation:   config.AttemptPolicyConfig{MaxAttempts: 20, Window: time.Minute},
		Upload:        config.AttemptPolicyConfig{MaxAttempts: 50, Window: time.Hour},
	}
	p := PoliciesFromConfig(cfg)
	assert.Equal(t, Policy{MaxAttempts: 5, Window: time.Minute, Lockout: 15 * time.Minute}, p[ActionPINAttempt])
	assert.Equal(t, 30*time.Minute, p[ActionAdminAuthFail].Lockout)
	assert.Zero(t, p[ActionPINCreation].Lockout)
	assert.Equal(t, time.Hour, p[ActionUpload].Window)
}

func TestLimiter_UnknownActionErrors(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Stop()
	l := New(s, map[Action]Policy{})
	_, err := l.Attempt(context.Background(), ActionUpload, "1.1.1.1")
	assert.Error(t, err)
	_, err = l.Status(context.Background(), ActionUpload, "1.1.1.1")
	assert.Error(t, err)
}

func TestLimiter_AttemptUsesActionPolicy(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Stop()
	l := New(s, map[Action]Policy{
		ActionPINCreation: {MaxAttempts: 2, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Attempt(ctx, ActionPINCreation, "9.9.9.9")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Attempt(ctx, ActionPINCreation, "9.9.9.9")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, ActionPINCreation, "9.9.9.9"))
	res, _ = l.Attempt(ctx, ActionPINCreation, "9.9.9.9")
	assert.True(t, res.Allowed)
}
