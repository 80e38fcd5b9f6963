package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

func TestQuotaMetrics_Observations(t *testing.T) {
	m := New(Config{Enabled: true}, prometheus.NewRegistry())

	m.ObserveCheck(quota.CodeOK, time.Millisecond)
	m.ObserveCheck(quota.CodeOK, time.Millisecond)
	m.ObserveCheck(quota.CodeQuotaExceeded, time.Millisecond)
	m.ObserveRelease(true)
	m.ObserveRelease(false)
	m.ObserveStoreError("increment_if_below")

	if got := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("OK")); got != 2 {
		t.Errorf("expected 2 OK decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("QUOTA_EXCEEDED")); got != 1 {
		t.Errorf("expected 1 denied decision, got %v", got)
	}
	if got := testutil.ToFloat64(m.releasesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed release, got %v", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("increment_if_below")); got != 1 {
		t.Errorf("expected 1 store error, got %v", got)
	}
}

func TestQuotaMetrics_Handler(t *testing.T) {
	m := New(Config{Enabled: true}, nil)
	m.ObserveCheck(quota.CodeOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "noteflow_quotad_decisions_total") {
		t.Errorf("exposition missing decisions counter:\n%s", body)
	}
	if !strings.Contains(body, "noteflow_quotad_check_duration_seconds") {
		t.Errorf("exposition missing duration histogram:\n%s", body)
	}
}
