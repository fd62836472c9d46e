package observe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testMetrics(t *testing.T) (Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

// TestMetrics_FetchTotalIncrements verifies query.fetch.total is incremented.
func TestMetrics_FetchTotalIncrements(t *testing.T) {
	m, reader := testMetrics(t)

	meta := QueryMeta{Hash: `["todos"]`}
	m.RecordFetch(context.Background(), meta, 100*time.Millisecond, nil)

	// Collect and verify metrics
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.fetch.total")
	if found == nil {
		t.Fatal("query.fetch.total metric not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", found.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected count 1, got %d", sum.DataPoints[0].Value)
	}
}

// TestMetrics_ErrorCounterOnSuccess verifies errors counter NOT incremented on success.
func TestMetrics_ErrorCounterOnSuccess(t *testing.T) {
	m, reader := testMetrics(t)

	meta := QueryMeta{Hash: `["ok"]`}
	m.RecordFetch(context.Background(), meta, 50*time.Millisecond, nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.fetch.errors")
	if found == nil {
		// If metric doesn't exist at all (no errors recorded), that's acceptable
		return
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		return // Different type, skip
	}
	if len(sum.DataPoints) > 0 && sum.DataPoints[0].Value != 0 {
		t.Errorf("expected errors count 0, got %d", sum.DataPoints[0].Value)
	}
}

// TestMetrics_ErrorCounterOnFailure verifies errors counter incremented on failure.
func TestMetrics_ErrorCounterOnFailure(t *testing.T) {
	m, reader := testMetrics(t)

	meta := QueryMeta{Hash: `["failing"]`}
	testErr := errors.New("fetch failed")
	m.RecordFetch(context.Background(), meta, 50*time.Millisecond, testErr)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.fetch.errors")
	if found == nil {
		t.Fatal("query.fetch.errors metric not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", found.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected errors count 1, got %d", sum.DataPoints[0].Value)
	}
}

// TestMetrics_DurationHistogramRecords verifies duration is recorded.
func TestMetrics_DurationHistogramRecords(t *testing.T) {
	m, reader := testMetrics(t)

	meta := QueryMeta{Hash: `["timed"]`}
	duration := 50 * time.Millisecond
	m.RecordFetch(context.Background(), meta, duration, nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.fetch.duration_ms")
	if found == nil {
		t.Fatal("query.fetch.duration_ms metric not found")
	}

	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", found.Data)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}

	// Verify sum is approximately 50ms
	dp := hist.DataPoints[0]
	if dp.Sum < 40 || dp.Sum > 60 {
		t.Errorf("expected duration ~50ms, got %f", dp.Sum)
	}
}

// TestMetrics_RetryAttempts verifies query.retry.attempts is incremented.
func TestMetrics_RetryAttempts(t *testing.T) {
	m, reader := testMetrics(t)

	meta := QueryMeta{Hash: `["flaky"]`, Attempt: 1}
	m.RecordRetry(context.Background(), meta)
	m.RecordRetry(context.Background(), meta)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.retry.attempts")
	if found == nil {
		t.Fatal("query.retry.attempts metric not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", found.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != 2 {
		t.Errorf("expected count 2, got %d", sum.DataPoints[0].Value)
	}
}

// TestMetrics_CacheEvents verifies query.cache.events carries the event label.
func TestMetrics_CacheEvents(t *testing.T) {
	m, reader := testMetrics(t)

	m.RecordCacheEvent(context.Background(), "query.added")
	m.RecordCacheEvent(context.Background(), "query.added")
	m.RecordCacheEvent(context.Background(), "query.removed")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.cache.events")
	if found == nil {
		t.Fatal("query.cache.events metric not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", found.Data)
	}

	counts := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		for iter := dp.Attributes.Iter(); iter.Next(); {
			kv := iter.Attribute()
			if string(kv.Key) == "event" {
				counts[kv.Value.AsString()] = dp.Value
			}
		}
	}

	if counts["query.added"] != 2 {
		t.Errorf("expected 2 query.added events, got %d", counts["query.added"])
	}
	if counts["query.removed"] != 1 {
		t.Errorf("expected 1 query.removed event, got %d", counts["query.removed"])
	}
}

// TestMetrics_LabelsApplied verifies labels include the query hash.
func TestMetrics_LabelsApplied(t *testing.T) {
	m, reader := testMetrics(t)

	meta := QueryMeta{Hash: `["todos",{"page":2}]`}
	m.RecordFetch(context.Background(), meta, 10*time.Millisecond, nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.fetch.total")
	if found == nil {
		t.Fatal("query.fetch.total metric not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", found.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}

	// Verify attributes
	attrs := sum.DataPoints[0].Attributes
	var foundHash bool
	for iter := attrs.Iter(); iter.Next(); {
		kv := iter.Attribute()
		if string(kv.Key) == "query.hash" {
			foundHash = true
			if kv.Value.AsString() != `["todos",{"page":2}]` {
				t.Errorf("unexpected query.hash value %q", kv.Value.AsString())
			}
		}
	}

	if !foundHash {
		t.Error("query.hash attribute not found")
	}
}

// TestMetrics_ConcurrentRecording verifies thread safety.
func TestMetrics_ConcurrentRecording(t *testing.T) {
	m, reader := testMetrics(t)

	meta := QueryMeta{Hash: `["concurrent"]`}
	const numGoroutines = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			m.RecordFetch(context.Background(), meta, time.Millisecond, nil)
		}()
	}

	wg.Wait()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := findMetric(rm, "query.fetch.total")
	if found == nil {
		t.Fatal("query.fetch.total metric not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", found.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != numGoroutines {
		t.Errorf("expected count %d, got %d", numGoroutines, sum.DataPoints[0].Value)
	}
}

// findMetric searches for a metric by name in ResourceMetrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}
