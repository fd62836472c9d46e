package cache

import (
	"context"

	"github.com/jonwraymond/querykit/retry"
)

// Meta carries opaque caller-defined annotations for a query. The cache
// stores it, passes it to the fetch function on every invocation, and
// replaces it wholesale each time the query is rebuilt; omitting Meta on a
// rebuild clears it.
type Meta map[string]any

// FetchFunc produces the value for a query.
//
// Contract:
//   - ctx is the cache's base context, not a per-call deadline; it is not
//     canceled when the fetch is. Cancellation arrives through fctx.
//   - The returned error is surfaced unmodified once retries are
//     exhausted.
//   - The function may be invoked multiple times per fetch (retries), one
//     invocation at a time.
type FetchFunc func(ctx context.Context, fctx *FetchContext) (any, error)

// FetchOptions adjust a single fetch dispatch.
type FetchOptions struct {
	// PageParam is handed to the producer unchanged. The cache attaches
	// no meaning to it.
	PageParam any
}

// FetchContext carries per-invocation inputs and the cancellation surface
// for one execution. It is valid for the lifetime of the execution,
// including across retries.
type FetchContext struct {
	key       Key
	pageParam any
	meta      Meta
	retryer   *retry.Retryer
	signal    bool
}

// Key returns the query key being fetched.
func (c *FetchContext) Key() Key { return c.key }

// PageParam returns the value passed through FetchOptions, nil when unset.
func (c *FetchContext) PageParam() any { return c.pageParam }

// Meta returns the query's annotations, nil when unset.
func (c *FetchContext) Meta() Meta { return c.meta }

// HasSignal reports whether an abort channel is available. It never marks
// the channel consumed; use it to probe before committing to Signal.
func (c *FetchContext) HasSignal() bool { return c.signal }

// Signal returns the execution's abort channel and marks it consumed: a
// producer that takes the channel declares it will stop when the channel
// closes, and the cache reverts the query when such a producer is canceled.
// Returns nil, without consuming anything, when the capability is disabled;
// guard with HasSignal since receiving from a nil channel blocks forever.
func (c *FetchContext) Signal() <-chan struct{} {
	if !c.signal {
		return nil
	}
	return c.retryer.AbortSignal()
}

// OnCancel registers fn to run if the execution is canceled, declaring a
// cancel capability. Registration marks the producer cancelable the same
// way consuming Signal does. If cancellation already happened, fn runs
// immediately.
func (c *FetchContext) OnCancel(fn func()) {
	c.retryer.RegisterCancel(fn)
}
