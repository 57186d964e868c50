package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")

	m.IncRuns("updated", 1.5)
	m.IncRuns("updated", 0.5)
	m.IncRuns("unchanged", 0.1)
	m.IncFetchRetries("http")
	m.IncFetchErrors("http", "network")
	m.SetRows("transactions", 49, 1)

	if got := testutil.ToFloat64(m.Runs.WithLabelValues("updated")); got != 2 {
		t.Errorf("updated runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FetchRetries.WithLabelValues("http")); got != 1 {
		t.Errorf("fetch retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RowsRejected.WithLabelValues("transactions")); got != 1 {
		t.Errorf("rejected rows = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RowsAccepted.WithLabelValues("transactions")); got != 49 {
		t.Errorf("accepted rows = %v, want 49", got)
	}

	count, err := testutil.GatherAndCount(reg, "test_runs_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 outcome series, got %d", count)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	a := Init("")
	b := Init("other")
	if a == nil || a != b {
		t.Error("Init should return the same instance on every call")
	}
	if Get() != a {
		t.Error("Get should return the initialized instance")
	}
}
