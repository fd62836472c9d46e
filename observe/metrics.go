package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records fetch executions, retry attempts, and cache lifecycle
// events.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records one settled fetch execution with its duration and
	// error status.
	RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error)

	// RecordRetry records one failed attempt that will be retried.
	RecordRetry(ctx context.Context, meta QueryMeta)

	// RecordCacheEvent records one cache lifecycle event by name, e.g.
	// "query.added".
	RecordCacheEvent(ctx context.Context, event string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter         metric.Meter
	fetchTotal    metric.Int64Counter
	fetchErrors   metric.Int64Counter
	retryAttempts metric.Int64Counter
	cacheEvents   metric.Int64Counter
	durationHist  metric.Float64Histogram
}

// NewMetrics creates a Metrics instance recording through the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	fetchTotal, err := meter.Int64Counter(
		"query.fetch.total",
		metric.WithDescription("Total number of fetch executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"query.fetch.errors",
		metric.WithDescription("Total number of fetch executions that settled with an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retryAttempts, err := meter.Int64Counter(
		"query.retry.attempts",
		metric.WithDescription("Total number of failed attempts that were retried"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	cacheEvents, err := meter.Int64Counter(
		"query.cache.events",
		metric.WithDescription("Total number of cache lifecycle events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"query.fetch.duration_ms",
		metric.WithDescription("Fetch execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:         meter,
		fetchTotal:    fetchTotal,
		fetchErrors:   fetchErrors,
		retryAttempts: retryAttempts,
		cacheEvents:   cacheEvents,
		durationHist:  durationHist,
	}, nil
}

// RecordFetch records metrics for one settled fetch execution.
func (m *metricsImpl) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("query.hash", meta.Hash))

	// Always increment total counter
	m.fetchTotal.Add(ctx, 1, opt)

	// Increment error counter on failure
	if err != nil {
		m.fetchErrors.Add(ctx, 1, opt)
	}

	// Record duration in milliseconds
	durationMs := float64(duration.Milliseconds())
	m.durationHist.Record(ctx, durationMs, opt)
}

// RecordRetry records one retried attempt.
func (m *metricsImpl) RecordRetry(ctx context.Context, meta QueryMeta) {
	m.retryAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("query.hash", meta.Hash)))
}

// RecordCacheEvent records one cache lifecycle event.
func (m *metricsImpl) RecordCacheEvent(ctx context.Context, event string) {
	m.cacheEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
}
func (m *noopMetrics) RecordRetry(ctx context.Context, meta QueryMeta) {}

func (m *noopMetrics) RecordCacheEvent(ctx context.Context, event string) {}
