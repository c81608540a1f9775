package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
	lastSeen    time.Time
}

// MemoryStore keeps buckets in process memory. Budgets are per instance; use
// RedisStore when several replicas must share them.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	idleTTL time.Duration
	stopCh  chan struct{}
	stopped sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithIdleTTL sets how long an unlocked bucket may sit unused before the janitor drops it.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

// NewMemoryStore creates a store and starts a janitor that evicts idle buckets
// every cleanupInterval. Call Stop to end the janitor.
func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		idleTTL: 2 * time.Hour,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.janitor(cleanupInterval)
	return s
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) evictIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, b := range s.buckets {
		if now.Before(b.lockedUntil) {
			continue
		}
		if now.Sub(b.lastSeen) > s.idleTTL {
			delete(s.buckets, key)
		}
	}
}

// Stop ends the janitor goroutine.
func (s *MemoryStore) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
}

// Attempt implements Store.
func (s *MemoryStore) Attempt(_ context.Context, key string, p Policy) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		s.buckets[key] = b
	}
	b.lastSeen = now

	if now.Before(b.lockedUntil) {
		return Result{Allowed: false, RetryAfter: b.lockedUntil.Sub(now)}, nil
	}

	if now.Sub(b.windowStart) > p.Window {
		b.count = 0
		b.windowStart = now
	}
	b.count++

	if b.count > p.MaxAttempts {
		if p.Lockout > 0 {
			b.lockedUntil = now.Add(p.Lockout)
			return Result{Allowed: false, RetryAfter: p.Lockout}, nil
		}
		return Result{Allowed: false, RetryAfter: b.windowStart.Add(p.Window).Sub(now)}, nil
	}
	return Result{Allowed: true, Remaining: p.MaxAttempts - b.count}, nil
}

// Status implements Store.
func (s *MemoryStore) Status(_ context.Context, key string, p Policy) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		return Result{Allowed: true, Remaining: p.MaxAttempts}, nil
	}
	if now.Before(b.lockedUntil) {
		return Result{Allowed: false, RetryAfter: b.lockedUntil.Sub(now)}, nil
	}
	if now.Sub(b.windowStart) > p.Window {
		return Result{Allowed: true, Remaining: p.MaxAttempts}, nil
	}
	if b.count >= p.MaxAttempts && p.Lockout == 0 {
		return Result{Allowed: false, RetryAfter: b.windowStart.Add(p.Window).Sub(now)}, nil
	}
	return Result{Allowed: true, Remaining: max(p.MaxAttempts-b.count, 0)}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of tracked buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
