package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspr-photos/intake/internal/config"
	"github.com/aspr-photos/intake/internal/telemetry"
)

// flakyBackend fails every call while failing is set and counts calls that
// actually reached it.
type flakyBackend struct {
	calls   atomic.Int32
	failing atomic.Bool
}

var errBackend = errors.New("connection reset")

func (f *flakyBackend) result() error {
	f.calls.Add(1)
	if f.failing.Load() {
		return errBackend
	}
	return nil
}

func (f *flakyBackend) Upload(context.Context, string, []byte, string, map[string]string) error {
	return f.result()
}

func (f *flakyBackend) Exists(context.Context, string) (bool, error) {
	if err := f.result(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *flakyBackend) Delete(context.Context, string) (bool, error) {
	if err := f.result(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *flakyBackend) DeleteByPrefix(context.Context, string) (int, error) {
	if err := f.result(); err != nil {
		return 1, err
	}
	return 3, nil
}

func (f *flakyBackend) Open(_ context.Context, path string) (*Object, error) {
	if err := f.result(); err != nil {
		return nil, err
	}
	if path == "missing" {
		return nil, ErrNotFound
	}
	return &Object{Body: io.NopCloser(strings.NewReader("data")), ContentType: "image/webp", Size: 4}, nil
}

func (f *flakyBackend) EnsureContainer(context.Context) error { return f.result() }

func breakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{Enabled: true, ConsecutiveFailures: 3, OpenTimeout: time.Minute}
}

func TestWrap_DelegatesAndCountsOutcomes(t *testing.T) {
	backend := &flakyBackend{}
	s := Wrap("delegate-test", backend, breakerConfig())
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "p/original", []byte("x"), "image/png", nil))
	obj, err := s.Open(ctx, "p/original")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", obj.ContentType)

	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.DeleteByPrefix(ctx, "p/")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.StorageOperationsTotal.WithLabelValues("delegate-test", "upload", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.StorageOperationsTotal.WithLabelValues("delegate-test", "open", "not_found")))
}

func TestWrap_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	backend := &flakyBackend{}
	backend.failing.Store(true)
	s := Wrap("breaker-test", backend, breakerConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Upload(ctx, "p/original", []byte("x"), "image/png", nil)
		require.ErrorIs(t, err, errBackend)
	}
	require.EqualValues(t, 3, backend.calls.Load())

	err := s.Upload(ctx, "p/original", []byte("x"), "image/png", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, backend.calls.Load(), "open breaker must not reach the backend")
	assert.Equal(t, float64(2), testutil.ToFloat64(telemetry.StorageBreakerState.WithLabelValues("breaker-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.StorageOperationsTotal.WithLabelValues("breaker-test", "upload", "rejected")))
}

func TestWrap_NotFoundDoesNotTrip(t *testing.T) {
	backend := &flakyBackend{}
	s := Wrap("notfound-test", backend, breakerConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.Open(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	}
	_, err := s.Open(ctx, "present")
	assert.NoError(t, err)
}

func TestWrap_PartialPrefixDeleteReported(t *testing.T) {
	backend := &flakyBackend{}
	backend.failing.Store(true)
	s := Wrap("partial-test", backend, config.CircuitBreakerConfig{})

	n, err := s.DeleteByPrefix(context.Background(), "p/")
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 1, n)
}

func TestWrap_DisabledBreakerNeverRejects(t *testing.T) {
	backend := &flakyBackend{}
	backend.failing.Store(true)
	s := Wrap("disabled-test", backend, config.CircuitBreakerConfig{})

	for i := 0; i < 20; i++ {
		_, err := s.Exists(context.Background(), "p")
		require.ErrorIs(t, err, errBackend)
	}
	assert.EqualValues(t, 20, backend.calls.Load())
}
