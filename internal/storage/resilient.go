package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/aspr-photos/intake/internal/config"
	"github.com/aspr-photos/intake/internal/telemetry"
)

// ErrUnavailable is returned without touching the backend while the circuit
// breaker is open.
var ErrUnavailable = errors.New("blob storage temporarily unavailable")

const (
	defaultTripAfter   = 5
	defaultOpenTimeout = 30 * time.Second
)

// resilientStorage decorates a backend with a circuit breaker and per-operation
// metrics. A missing blob is a normal outcome and never trips the breaker.
type resilientStorage struct {
	name    string
	backend Storage
	cb      *gobreaker.CircuitBreaker[any]
}

// Wrap decorates backend. When the breaker is disabled only metrics are added.
func Wrap(name string, backend Storage, cfg config.CircuitBreakerConfig) Storage {
	r := &resilientStorage{name: name, backend: backend}
	if !cfg.Enabled {
		return r
	}

	tripAfter := cfg.ConsecutiveFailures
	if tripAfter == 0 {
		tripAfter = defaultTripAfter
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}

	telemetry.StorageBreakerState.WithLabelValues(name).Set(0)
	r.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "storage-" + name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			slog.Warn("storage circuit breaker state change",
				"backend", name, "from", from.String(), "to", to.String())
			telemetry.StorageBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	return r
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// do runs fn through the breaker (if any) and records the outcome.
func (r *resilientStorage) do(op string, fn func() (any, error)) (any, error) {
	var (
		result any
		err    error
	)
	if r.cb == nil {
		result, err = fn()
	} else {
		result, err = r.cb.Execute(fn)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			telemetry.StorageOperationsTotal.WithLabelValues(r.name, op, "rejected").Inc()
			return nil, fmt.Errorf("%s %s: %w", r.name, op, ErrUnavailable)
		}
	}

	outcome := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	telemetry.StorageOperationsTotal.WithLabelValues(r.name, op, outcome).Inc()
	return result, err
}

func (r *resilientStorage) Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) error {
	_, err := r.do("upload", func() (any, error) {
		return nil, r.backend.Upload(ctx, path, data, contentType, metadata)
	})
	return err
}

func (r *resilientStorage) Exists(ctx context.Context, path string) (bool, error) {
	v, err := r.do("exists", func() (any, error) {
		return r.backend.Exists(ctx, path)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (r *resilientStorage) Delete(ctx context.Context, path string) (bool, error) {
	v, err := r.do("delete", func() (any, error) {
		return r.backend.Delete(ctx, path)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (r *resilientStorage) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	v, err := r.do("delete_prefix", func() (any, error) {
		return r.backend.DeleteByPrefix(ctx, prefix)
	})
	if err != nil {
		// Report partial progress; some backends delete before failing.
		if n, ok := v.(int); ok {
			return n, err
		}
		return 0, err
	}
	return v.(int), nil
}

func (r *resilientStorage) Open(ctx context.Context, path string) (*Object, error) {
	v, err := r.do("open", func() (any, error) {
		return r.backend.Open(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}

func (r *resilientStorage) EnsureContainer(ctx context.Context) error {
	_, err := r.do("ensure_container", func() (any, error) {
		return nil, r.backend.EnsureContainer(ctx)
	})
	return err
}
