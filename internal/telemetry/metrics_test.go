package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Registration: Gather() skips *Vec metrics with no children yet, so each
// collector is asked for its descriptors instead.
// ---------------------------------------------------------------------------

func TestMetrics_Descriptors(t *testing.T) {
	collectors := map[string]prometheus.Collector{
		"http_requests_total":           HTTPRequestsTotal,
		"http_request_duration_seconds": HTTPRequestDuration,
		"photos_ingested_total":         PhotosIngestedTotal,
		"photo_bytes_ingested_total":    PhotoBytesIngestedTotal,
		"rendition_duration_seconds":    RenditionDuration,
		"storage_operations_total":      StorageOperationsTotal,
		"storage_breaker_state":         StorageBreakerState,
		"pin_validations_total":         PINValidationsTotal,
		"rate_limit_denials_total":      RateLimitDenialsTotal,
		"audit_write_failures_total":    AuditWriteFailuresTotal,
		"db_open_connections":           DBOpenConnections,
	}

	for name, c := range collectors {
		t.Run(name, func(t *testing.T) {
			descs := make(chan *prometheus.Desc, 4)
			c.Describe(descs)
			close(descs)

			var found bool
			for d := range descs {
				found = found || strings.Contains(d.String(), `fqName: "`+name+`"`)
			}
			if !found {
				t.Errorf("no descriptor named %s", name)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Recording
// ---------------------------------------------------------------------------

func TestMetrics_CountersAdvance(t *testing.T) {
	tests := []struct {
		name string
		c    prometheus.Counter
	}{
		{"photos ingested", PhotosIngestedTotal.WithLabelValues("session", "success")},
		{"photo bytes", PhotoBytesIngestedTotal},
		{"pin validation failure", PINValidationsTotal.WithLabelValues("failure")},
		{"pin attempt denial", RateLimitDenialsTotal.WithLabelValues("pin-attempt")},
		{"storage put error", StorageOperationsTotal.WithLabelValues("local", "put", "error")},
		{"audit write failure", AuditWriteFailuresTotal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.c)
			tt.c.Add(3)
			if got := testutil.ToFloat64(tt.c) - before; got != 3 {
				t.Errorf("counter advanced by %v, want 3", got)
			}
		})
	}
}

func TestMetrics_BreakerStateGauge(t *testing.T) {
	g := StorageBreakerState.WithLabelValues("azure")
	g.Set(2)
	if v := testutil.ToFloat64(g); v != 2 {
		t.Errorf("breaker state = %v, want 2 (open)", v)
	}
	g.Set(0)
	if v := testutil.ToFloat64(g); v != 0 {
		t.Errorf("breaker state = %v, want 0 (closed)", v)
	}
}

func TestMetrics_RenditionDurationPerVariant(t *testing.T) {
	before := histogramCount(t, RenditionDuration, "web")
	RenditionDuration.WithLabelValues("thumb_sm").Observe(0.02)
	RenditionDuration.WithLabelValues("web").Observe(0.4)

	if n := testutil.CollectAndCount(RenditionDuration, "rendition_duration_seconds"); n < 2 {
		t.Errorf("rendition_duration_seconds has %d series, want at least 2", n)
	}
	if got := histogramCount(t, RenditionDuration, "web") - before; got != 1 {
		t.Errorf("web sample count advanced by %d, want 1", got)
	}
}

// histogramCount reads the sample count of one variant's histogram series.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, variant string) uint64 {
	t.Helper()
	h, ok := hv.WithLabelValues(variant).(prometheus.Metric)
	if !ok {
		t.Fatal("histogram observer is not a prometheus.Metric")
	}
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}
