package onboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wastehub/onboard/session"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricOTPRequested)
	m.Inc(MetricOTPRequested)
	m.Inc(MetricOTPRequested)

	if got := m.Value(MetricOTPRequested); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricGuardAllowed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricGuardAllowed); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		10 * time.Millisecond,
		75 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
		2 * time.Second,
		4 * time.Second,
		9 * time.Second,
	}
	for _, d := range observations {
		m.Observe(MetricProviderLatency, d)
	}
	m.Observe(MetricOTPRequested, time.Second)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricProviderLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if len(snap.Histograms) != 1 {
		t.Fatalf("expected only the provider latency histogram, got %d", len(snap.Histograms))
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricOTPFailure)
	m.Inc(MetricOTPFailure)

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricOTPFailure] != 2 {
		t.Fatalf("expected MetricOTPFailure=2 got %d", snap.Counters[MetricOTPFailure])
	}
	if _, ok := snap.Counters[MetricProviderLatency]; ok {
		t.Fatal("latency histogram must not appear as a counter")
	}
	if len(snap.Histograms) != 0 {
		t.Fatal("expected no histograms when latency is disabled")
	}
}

func TestMetricNamesAreUnique(t *testing.T) {
	seen := map[string]MetricID{}
	for _, id := range MetricIDs() {
		name := id.String()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("metric name %q used by %d and %d", name, prev, id)
		}
		seen[name] = id
	}
}

func TestEngineRecordsProviderLatency(t *testing.T) {
	te := newTestEngine(t, func(b *Builder) { b.WithLatencyHistograms(true) })

	if _, err := te.RequestOTP(context.Background(), session.Session{}, RequestOTPInput{Phone: testPhone}); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}

	snap := te.MetricsSnapshot()
	var total uint64
	for _, v := range snap.Histograms[MetricProviderLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
	if snap.Counters[MetricOTPRequested] != 1 {
		t.Fatalf("expected one otp request, got %d", snap.Counters[MetricOTPRequested])
	}
}
