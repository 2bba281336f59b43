package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metricLoop
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if NewCollector(prometheus.NewRegistry()) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordPassAppended_CountsByLocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPassAppended("Bathroom")
	c.RecordPassAppended("Bathroom")
	c.RecordPassAppended("Nurse")

	m := findMetric(t, reg, "hallpass_passes_appended_total", map[string]string{"location": "Bathroom"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("Bathroom appended = %v, want 2", got)
	}
}

func TestRecordPassesDeleted_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPassesDeleted(ScopeTeacher, 5)
	c.RecordPassesDeleted(ScopeTeacher, 2)

	m := findMetric(t, reg, "hallpass_passes_deleted_total", map[string]string{"scope": ScopeTeacher})
	if got := m.GetCounter().GetValue(); got != 7 {
		t.Errorf("deleted = %v, want 7", got)
	}
}

func TestRecordAuthorizationDeniedAndStorageError(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthorizationDenied("delete_all")
	c.RecordStorageError("append")

	if got := findMetric(t, reg, "hallpass_authorization_denied_total", map[string]string{"operation": "delete_all"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("denied = %v, want 1", got)
	}
	if got := findMetric(t, reg, "hallpass_storage_errors_total", map[string]string{"operation": "append"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("storage errors = %v, want 1", got)
	}
}

func TestRecordStoreLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStoreLatency("list_all", 250*time.Millisecond)

	m := findMetric(t, reg, "hallpass_store_latency_seconds", map[string]string{"operation": "list_all"})
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestRecordHTTPStatusAndRetention(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(404)
	c.RecordRetentionTrimmed(12)

	if got := findMetric(t, reg, "hallpass_http_status_total", map[string]string{"status_code": "404"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("404 count = %v, want 1", got)
	}
	if got := findMetric(t, reg, "hallpass_retention_trimmed_total", nil).GetCounter().GetValue(); got != 12 {
		t.Errorf("trimmed = %v, want 12", got)
	}
}

func TestNopCollector_ImplementsInterface(t *testing.T) {
	var c MetricsCollector = NopCollector{}
	c.RecordPassAppended("x")
	c.RecordStoreLatency("x", time.Second)
}
