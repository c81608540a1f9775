// Package telemetry provides application-level observability for the photo intake service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served by
// the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<INTAKE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so the public
// image and upload surface never exposes it.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Photo ingestion outcomes and rendition transcode latency
//   - Blob storage operation counters and circuit breaker state
//   - PIN validation outcomes and rate limiter denials
//   - Audit write failures
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/photos/:id/image) rather
// than the raw request URL, so photo ids never become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Ingestion metrics, recorded by the rendition pipeline.
//
// PhotosIngestedTotal has labels {source, outcome}; source is "session" for field
// uploads or "admin" for batch uploads, outcome is "success" or "failure".
//
// RenditionDuration observes one transcode per variant, so the p95 of the "web"
// variant is the figure to watch when field uploads feel slow.
//
// Example PromQL queries:
//   - Failure ratio:       sum(rate(photos_ingested_total{outcome="failure"}[1h])) / sum(rate(photos_ingested_total[1h]))
//   - p95 transcode time:  histogram_quantile(0.95, sum by (variant, le) (rate(rendition_duration_seconds_bucket[1h])))
var (
	PhotosIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photos_ingested_total",
			Help: "Total number of photo ingestion attempts, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	PhotoBytesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_bytes_ingested_total",
			Help: "Total bytes of original photo data accepted by the pipeline.",
		},
	)

	RenditionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rendition_duration_seconds",
			Help:    "Time spent decoding, resizing, and encoding one rendition.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"variant"},
	)
)

// Storage metrics, recorded by the instrumented storage decorator.
//
// StorageOperationsTotal has labels {backend, op, outcome}. A burst of
// outcome="error" followed by outcome="rejected" means the circuit breaker opened.
//
// StorageBreakerState is 0 (closed), 1 (half-open) or 2 (open).
var (
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of blob storage operations, by backend, operation, and outcome.",
		},
		[]string{"backend", "op", "outcome"},
	)

	StorageBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_breaker_state",
			Help: "Circuit breaker state per storage backend (0 closed, 1 half-open, 2 open).",
		},
		[]string{"backend"},
	)
)

// Authentication metrics.
//
// PINValidationsTotal has label {outcome}: success, failure, rate_limited, invalid.
// RateLimitDenialsTotal has label {action} (pin-attempt, admin-auth-fail, pin-creation, upload).
//
// Example PromQL queries:
//   - Brute force signal:  increase(rate_limit_denials_total{action="pin-attempt"}[10m]) > 20
var (
	PINValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pin_validations_total",
			Help: "Total number of PIN validation attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	RateLimitDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Total number of requests denied by the attempt limiter, by action.",
		},
		[]string{"action"},
	)
)

// AuditWriteFailuresTotal counts audit entries that could not be persisted. Audit
// failures never reach callers, so this counter is the only signal that the trail has gaps.
var AuditWriteFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Total number of audit log entries that failed to persist.",
	},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds. It exits when db.Ping fails, which happens once the
// pool is closed during shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
