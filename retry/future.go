package retry

import (
	"context"
	"sync"
)

// Future is the settlement handle for one execution. It settles exactly
// once; every caller observes the same outcome.
//
// Contract:
//   - All methods are safe for concurrent use.
//   - Done is closed after the outcome is recorded, so a Result call that
//     follows Done never returns ErrPending.
//   - The owning Retryer's OnSuccess/OnError callback completes before Done
//     closes, so state committed by the owner is visible to waiters.
//   - Wait honors context cancellation without disturbing the execution;
//     abandoning a Wait does not cancel anything.
type Future struct {
	mu      sync.Mutex
	claimed bool
	settled bool
	value   any
	err     error
	done    chan struct{}
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that has already settled with value.
func Resolved(value any) *Future {
	f := newFuture()
	f.claim()
	f.publish(value, nil)
	return f
}

// Rejected returns a future that has already settled with err.
func Rejected(err error) *Future {
	f := newFuture()
	f.claim()
	f.publish(nil, err)
	return f
}

// Done returns a channel closed when the execution settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsSettled reports whether the execution has settled.
func (f *Future) IsSettled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the settled outcome. Before settlement it returns
// ErrPending.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settled {
		return nil, ErrPending
	}
	return f.value, f.err
}

// Wait blocks until the execution settles or ctx is done, returning the
// outcome or the context error.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// claim wins the right to settle. Settlement happens in two phases so the
// winner can run owner callbacks between deciding the outcome and releasing
// waiters: claim, callback, publish.
func (f *Future) claim() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed {
		return false
	}
	f.claimed = true
	return true
}

// isClaimed reports whether settlement has been decided, even if not yet
// published. Late attempt outcomes check this to discard themselves.
func (f *Future) isClaimed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimed
}

// publish records the outcome and releases waiters. Only the goroutine that
// won claim may call it, exactly once.
func (f *Future) publish(value any, err error) {
	f.mu.Lock()
	f.settled = true
	f.value = value
	f.err = err
	f.mu.Unlock()
	close(f.done)
}
