// Package ratelimit counts attempts per caller and action inside a fixed window and
// escalates to a lockout when a budget is exceeded.
//
// A bucket is keyed by "action:ip" so that failure budgets never cross action
// boundaries. Each Attempt increments the bucket; once the count exceeds the
// policy's MaxAttempts the call is denied, and if the policy carries a Lockout the
// bucket is locked for that long. While locked every call is denied, even after the
// counting window has rolled over.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aspr-photos/intake/internal/config"
	"github.com/aspr-photos/intake/internal/telemetry"
)

// Action names a rate-limited operation.
type Action string

const (
	ActionPINAttempt    Action = "pin-attempt"
	ActionAdminAuthFail Action = "admin-auth-fail"
	ActionPINCreation   Action = "pin-creation"
	ActionUpload        Action = "upload"
)

// Policy is the budget for one action.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	// Lockout, when positive, locks the bucket for this long after the budget is exceeded.
	Lockout time.Duration
}

// Result reports the outcome of one attempt.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r Result) RetryAfterSeconds() int {
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// Store holds bucket state. Implementations must be safe for concurrent use.
type Store interface {
	// Attempt records one attempt against key and reports whether it is allowed.
	Attempt(ctx context.Context, key string, p Policy) (Result, error)
	// Status reports whether key is currently blocked without recording an attempt.
	Status(ctx context.Context, key string, p Policy) (Result, error)
	// Reset forgets all state for key.
	Reset(ctx context.Context, key string) error
}

// Key builds the bucket key for an action and caller.
func Key(action Action, ip string) string {
	return string(action) + ":" + ip
}

// Limiter applies per-action policies on top of a Store.
type Limiter struct {
	store    Store
	policies map[Action]Policy
}

// New creates a Limiter. Every action used with the limiter must have a policy.
func New(store Store, policies map[Action]Policy) *Limiter {
	return &Limiter{store: store, policies: policies}
}

// PoliciesFromConfig maps the configured rate limits onto actions.
func PoliciesFromConfig(cfg config.RateLimitsConfig) map[Action]Policy {
	conv := func(p config.AttemptPolicyConfig) Policy {
		return Policy{MaxAttempts: p.MaxAttempts, Window: p.Window, Lockout: p.Lockout}
	}
	return map[Action]Policy{
		ActionPINAttempt:    conv(cfg.PinAttempt),
		ActionAdminAuthFail: conv(cfg.AdminAuthFail),
		ActionPINCreation:   conv(cfg.PinCreation),
		ActionUpload:        conv(cfg.Upload),
	}
}

// Policy returns the policy registered for action.
func (l *Limiter) Policy(action Action) (Policy, bool) {
	p, ok := l.policies[action]
	return p, ok
}

// Attempt records one attempt by ip for action.
func (l *Limiter) Attempt(ctx context.Context, action Action, ip string) (Result, error) {
	p, ok := l.policies[action]
	if !ok {
		return Result{}, fmt.Errorf("no rate limit policy for action %q", action)
	}
	res, err := l.store.Attempt(ctx, Key(action, ip), p)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit attempt %s: %w", action, err)
	}
	if !res.Allowed {
		telemetry.RateLimitDenialsTotal.WithLabelValues(string(action)).Inc()
	}
	return res, nil
}

// Status reports whether ip is currently blocked for action without spending budget.
func (l *Limiter) Status(ctx context.Context, action Action, ip string) (Result, error) {
	p, ok := l.policies[action]
	if !ok {
		return Result{}, fmt.Errorf("no rate limit policy for action %q", action)
	}
	res, err := l.store.Status(ctx, Key(action, ip), p)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit status %s: %w", action, err)
	}
	return res, nil
}

// Reset clears the bucket for ip and action.
func (l *Limiter) Reset(ctx context.Context, action Action, ip string) error {
	return l.store.Reset(ctx, Key(action, ip))
}
