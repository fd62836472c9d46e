// Package retry drives single asynchronous executions with bounded retry,
// backoff, environment-aware pausing, and cooperative cancellation.
//
// A Retryer governs exactly one execution of a producer function: it invokes
// the function, consults a Policy on failure, waits out a DelayFunc-computed
// backoff between attempts, and settles a Future exactly once with the final
// outcome. Between a failed attempt and its retry delay the Retryer checks
// the connectivity and focus trackers it was given; while either condition
// is unfavorable the execution suspends without consuming its attempt
// budget, resuming as soon as either tracker reports a favorable transition.
//
// # Policies and Delays
//
// A Policy decides whether a failed attempt may be retried; a DelayFunc
// computes the wait before the next attempt. Constructors cover the common
// forms:
//
//	r := retry.New(retry.Config{
//	    Policy: retry.RetryMax(5),
//	    Delay:  retry.ExponentialDelay(100*time.Millisecond, 10*time.Second),
//	})
//
// With no configuration, RetryMax(DefaultRetries) and DefaultDelay apply.
//
// # Running an Execution
//
// Start launches the execution on its own goroutine and returns the Future
// callers settle on:
//
//	future := r.Start(func() (any, error) {
//	    return loadRemoteValue()
//	})
//	value, err := future.Wait(ctx)
//
// Overlapping interest joins the same Future; the execution runs once.
//
// # Cancellation
//
// Cancellation is cooperative. Cancel settles the Future immediately with a
// *CanceledError, closes the abort signal for producers that consumed it,
// and invokes any cancel capability the producer registered. A producer that
// ignores all of this keeps running; its late outcome is discarded.
// CancelRetry is gentler: in-flight work finishes and commits, but no
// further attempts start.
package retry
