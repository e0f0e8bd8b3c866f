package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	assigned := testutil.ToFloat64(idsAssigned.WithLabelValues("account"))
	misses := testutil.ToFloat64(reverseLookups.WithLabelValues("miss"))
	failed := testutil.ToFloat64(sessionsTotal.WithLabelValues("failed"))
	inflight := testutil.ToFloat64(sessionsInflight)

	SetBuildInfo("1.0.0", "abc", "2026-01-01")
	RecordIDAssigned("account")
	RecordIDCollision("account")
	RecordReverseLookup(false)
	SessionStart()
	if v := testutil.ToFloat64(sessionsInflight); v != inflight+1 {
		t.Fatalf("sessions inflight after start: %v", v)
	}
	SessionEnd("failed", 10*time.Millisecond)

	if v := testutil.ToFloat64(idsAssigned.WithLabelValues("account")); v != assigned+1 {
		t.Fatalf("ids assigned: %v", v)
	}
	if v := testutil.ToFloat64(reverseLookups.WithLabelValues("miss")); v != misses+1 {
		t.Fatalf("reverse misses: %v", v)
	}
	if v := testutil.ToFloat64(sessionsTotal.WithLabelValues("failed")); v != failed+1 {
		t.Fatalf("sessions failed: %v", v)
	}
	if v := testutil.ToFloat64(sessionsInflight); v != inflight {
		t.Fatalf("sessions inflight after end: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2026-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
}
