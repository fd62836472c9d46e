package observe

import (
	"context"
	"time"
)

// FetchFunc is the signature for instrumented fetch invocations. This is
// the boundary Middleware wraps; adapters bind it to the cache's own fetch
// function type.
type FetchFunc func(ctx context.Context, query QueryMeta, pageParam any) (any, error)

// Middleware wraps fetch invocations with observability (tracing, metrics,
// logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe FetchFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
//   - Ownership: PageParam and results are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps a FetchFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn FetchFunc) FetchFunc {
	return func(ctx context.Context, query QueryMeta, pageParam any) (any, error) {
		// Start span
		ctx, span := m.tracer.StartSpan(ctx, query)

		// Record start time
		start := time.Now()

		// Execute the function
		result, err := fn(ctx, query, pageParam)

		// Calculate duration
		duration := time.Since(start)

		// End span (records error status if err != nil)
		m.tracer.EndSpan(span, err)

		// Record metrics
		m.metrics.RecordFetch(ctx, query, duration, err)
		if query.Attempt > 0 {
			m.metrics.RecordRetry(ctx, query)
		}

		// Log the invocation
		queryLogger := m.logger.WithQuery(query)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if query.Attempt > 0 {
			fields = append(fields, Field{Key: "attempt", Value: query.Attempt})
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			queryLogger.Error(ctx, "query fetch failed", fields...)
		} else {
			queryLogger.Info(ctx, "query fetch completed", fields...)
		}

		return result, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	tracer := newTracer(obs.Tracer())

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(tracer, metrics, obs.Logger()), nil
}
