package leagueauth

import (
	"sync"
	"testing"
)

func TestMetricsIncAndValue(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login_success = %d, want 2", got)
	}
	if got := m.Value(MetricLoginFailure); got != 1 {
		t.Fatalf("login_failure = %d, want 1", got)
	}
	if got := m.Value(MetricLogout); got != 0 {
		t.Fatalf("untouched counter = %d, want 0", got)
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled metrics counted %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot has %d counters", len(snap.Counters))
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics reports enabled")
	}
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSessionCreated)

	snap := m.Snapshot()
	m.Inc(MetricSessionCreated)

	if snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("snapshot = %d, want 1", snap.Counters[MetricSessionCreated])
	}
	if m.Value(MetricSessionCreated) != 2 {
		t.Fatalf("live value = %d, want 2", m.Value(MetricSessionCreated))
	}
}

func TestMetricNamesAreStableAndDistinct(t *testing.T) {
	seen := make(map[string]MetricID)
	for _, id := range MetricIDs() {
		name := id.String()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("name %q shared by %d and %d", name, prev, id)
		}
		seen[name] = id
	}
	if MetricID(metricIDCount).String() != "unknown" {
		t.Fatal("out-of-range id must map to unknown")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricPermissionDenied)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricPermissionDenied); got != workers*perWorker {
		t.Fatalf("counter = %d, want %d", got, workers*perWorker)
	}
}
