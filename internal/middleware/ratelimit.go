// ratelimit.go provides the general per-client request throttle and the gate that
// charges an attempt budget (uploads, PIN creation) before a handler runs.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/ratelimit"
	"github.com/aspr-photos/intake/internal/telemetry"
)

// RateLimitConfig holds configuration for the general throttle
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate allowed per client
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often idle clients are forgotten
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 300, // gallery pages fetch many thumbnails at once
		BurstSize:         60,
		CleanupInterval:   5 * time.Minute,
	}
}

// ThrottleResult is the outcome of one throttle decision.
type ThrottleResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Throttle decides whether one more request for key may proceed.
type Throttle interface {
	Allow(ctx context.Context, key string) (ThrottleResult, error)
}

// LocalThrottle keeps a token bucket per client in process memory.
type LocalThrottle struct {
	config   RateLimitConfig
	limiters map[string]*localEntry
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalThrottle creates a LocalThrottle and starts its cleanup goroutine.
func NewLocalThrottle(config RateLimitConfig) *LocalThrottle {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	t := &LocalThrottle{
		config:   config,
		limiters: make(map[string]*localEntry),
		stopCh:   make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// cleanup periodically removes clients idle for more than 10 minutes
func (t *LocalThrottle) cleanup() {
	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			now := time.Now()
			for key, entry := range t.limiters {
				if now.Sub(entry.lastSeen) > 10*time.Minute {
					delete(t.limiters, key)
				}
			}
			t.mu.Unlock()
		case <-t.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (t *LocalThrottle) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Allow implements Throttle.
func (t *LocalThrottle) Allow(_ context.Context, key string) (ThrottleResult, error) {
	now := time.Now()

	t.mu.Lock()
	entry, ok := t.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(t.config.RequestsPerMinute) / 60.0)
		entry = &localEntry{limiter: rate.NewLimiter(perSecond, t.config.BurstSize)}
		t.limiters[key] = entry
	}
	entry.lastSeen = now
	t.mu.Unlock()

	res := ThrottleResult{Limit: t.config.RequestsPerMinute}
	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		res.RetryAfter = time.Minute
		return res, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
		return res, nil
	}

	res.Allowed = true
	res.Remaining = max(0, int(entry.limiter.TokensAt(now)))
	return res, nil
}

// RedisThrottle shares request budgets across instances through Redis using the
// GCRA implementation of redis_rate.
type RedisThrottle struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisThrottle creates a throttle backed by limiter.
func NewRedisThrottle(limiter *redis_rate.Limiter, config RateLimitConfig, prefix string) *RedisThrottle {
	limit := redis_rate.PerMinute(config.RequestsPerMinute)
	if config.BurstSize > 0 {
		limit.Burst = config.BurstSize
	}
	return &RedisThrottle{limiter: limiter, limit: limit, prefix: prefix}
}

// Allow implements Throttle.
func (t *RedisThrottle) Allow(ctx context.Context, key string) (ThrottleResult, error) {
	res, err := t.limiter.Allow(ctx, t.prefix+key, t.limit)
	if err != nil {
		return ThrottleResult{}, fmt.Errorf("redis throttle: %w", err)
	}
	out := ThrottleResult{
		Allowed:   res.Allowed > 0,
		Limit:     t.limit.Rate,
		Remaining: res.Remaining,
	}
	if !out.Allowed {
		out.RetryAfter = res.RetryAfter
	}
	return out, nil
}

// RateLimitMiddleware throttles requests per client. A throttle backend error lets
// the request through so that a Redis outage does not take the portal down.
func RateLimitMiddleware(throttle Throttle) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		res, err := throttle.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("request throttle unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			telemetry.RateLimitDenialsTotal.WithLabelValues("request").Inc()
			apierrors.Respond(c, apierrors.RateLimited(res.RetryAfter, "Rate limit exceeded"))
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: session > IP address
func getRateLimitKey(c *gin.Context) string {
	if id := c.GetString(SessionIDKey); id != "" {
		return "session:" + id
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// DeniedFunc is called when AttemptLimit refuses a request, before the 429 is written.
type DeniedFunc func(c *gin.Context, res ratelimit.Result)

// AttemptLimit charges one attempt against the caller's budget for action and
// refuses the request with 429 once the budget is spent. A limiter error fails open.
func AttemptLimit(limiter *ratelimit.Limiter, action ratelimit.Action, message string, onDenied DeniedFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		res, err := limiter.Attempt(c.Request.Context(), action, ip)
		if err != nil {
			slog.Error("attempt limiter failed", "action", action, "ip", ip, "error", err)
			c.Next()
			return
		}
		if !res.Allowed {
			if onDenied != nil {
				onDenied(c, res)
			}
			apierrors.Respond(c, apierrors.RateLimited(res.RetryAfter, message))
			return
		}
		c.Next()
	}
}
