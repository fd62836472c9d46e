// Package observe provides observability primitives for query fetches.
//
// It is a pure instrumentation library: no caching, no execution, no I/O
// beyond exporter setup. Consumers wrap their fetch functions with
// Middleware and feed cache lifecycle events into Metrics; the cache core
// itself depends only on the Logger interface.
package observe
