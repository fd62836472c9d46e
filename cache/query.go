package cache

import (
	"math"
	"sync"
	"time"

	"github.com/jonwraymond/querykit/observe"
	"github.com/jonwraymond/querykit/retry"
)

// Retention windows. A query's effective window is the maximum requested
// across all builds of that query.
const (
	// DefaultCacheTime is the retention window applied when
	// QueryConfig.CacheTime is zero.
	DefaultCacheTime = 5 * time.Minute

	// NoRetention removes a query synchronously when its last observer
	// detaches. Any negative CacheTime is treated as NoRetention.
	NoRetention time.Duration = -1

	// NeverExpire keeps a query until it is explicitly removed.
	NeverExpire time.Duration = math.MaxInt64
)

// QueryConfig configures a query at build time. Rebuilding an existing
// query replaces everything except the retention window, which only grows.
type QueryConfig struct {
	// Fetch produces the query's value. A query without a fetch function
	// can still be seeded through SetData; dispatching a fetch on it
	// rejects with ErrNoFetchFunc.
	Fetch FetchFunc

	// Retry decides whether a failed attempt may be retried.
	// Defaults to retry.RetryMax(retry.DefaultRetries).
	Retry retry.Policy

	// RetryDelay computes the wait between attempts.
	// Defaults to retry.DefaultDelay.
	RetryDelay retry.DelayFunc

	// StaleTime is how long committed data counts as fresh. Zero means
	// data is stale as soon as it is committed.
	StaleTime time.Duration

	// CacheTime is the retention window after the last observer detaches.
	// Zero means DefaultCacheTime; NoRetention removes the query
	// immediately; NeverExpire disables collection.
	CacheTime time.Duration

	// Meta is attached to the query and passed to the fetch function.
	// Replaced wholesale on rebuild; omitting it clears it.
	Meta Meta
}

func normalizeCacheTime(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultCacheTime
	case d < 0:
		return NoRetention
	default:
		return d
	}
}

// Query is one cached unit: a key, its state record, and at most one
// in-flight execution. Queries are created and removed by their Cache;
// holding a *Query after removal is safe but the pointer no longer names
// the registry entry.
type Query struct {
	cache *Cache
	key   Key
	hash  string

	mu        sync.Mutex
	cfg       QueryConfig
	cacheTime time.Duration
	state     State
	revert    *State
	retryer   *retry.Retryer
	observers []*Observer
	gcTimer   *time.Timer

	notifier notifier
}

// newQuery constructs an idle query and starts its retention countdown;
// a query that never gains an observer is collected like one that lost
// its last observer.
func newQuery(c *Cache, key Key, hash string, cfg QueryConfig) *Query {
	q := &Query{
		cache:     c,
		key:       key,
		hash:      hash,
		cfg:       cfg,
		cacheTime: normalizeCacheTime(cfg.CacheTime),
	}
	q.scheduleGcLocked()
	return q
}

// Key returns the query's key. The slice is shared; do not mutate it.
func (q *Query) Key() Key { return q.key }

// Hash returns the canonical hash that names this query in its cache.
func (q *Query) Hash() string { return q.hash }

// State returns a snapshot of the query's current state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Meta returns the query's current annotations.
func (q *Query) Meta() Meta {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg.Meta
}

// CacheTime returns the effective retention window.
func (q *Query) CacheTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cacheTime
}

// ObserverCount returns the number of attached observers.
func (q *Query) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

// IsStale reports whether the query needs refreshing under its configured
// StaleTime: it has no data, is invalidated, or the data has outlived the
// window.
func (q *Query) IsStale() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.staleLocked(q.cfg.StaleTime)
}

func (q *Query) isStaleByTime(staleTime time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.staleLocked(staleTime)
}

func (q *Query) staleLocked(staleTime time.Duration) bool {
	if q.state.IsInvalidated || q.state.DataUpdatedAt.IsZero() {
		return true
	}
	return time.Since(q.state.DataUpdatedAt) >= staleTime
}

// Fetch starts an execution for this query, or joins the one already in
// flight: concurrent fetches share a single producer run and a single
// settlement. Joining an execution that has given up on further retries
// re-arms them.
//
// The returned Future rejects with ErrNoFetchFunc when the query has no
// fetch function.
func (q *Query) Fetch(opts FetchOptions) *retry.Future {
	q.mu.Lock()
	if active := q.retryer; active != nil {
		q.mu.Unlock()
		active.ContinueRetry()
		return active.Future()
	}

	fn := q.cfg.Fetch
	if fn == nil {
		q.mu.Unlock()
		return retry.Rejected(ErrNoFetchFunc)
	}

	// Snapshot for revert cancellation, then apply the dispatch
	// transition: only a fetch with no prior data moves to loading.
	snap := q.state
	q.revert = &snap
	q.state.IsFetching = true
	q.state.FetchFailureCount = 0
	if q.state.DataUpdatedAt.IsZero() {
		q.state.Status = StatusLoading
		q.state.Err = nil
	}

	cc := q.cache.cfg
	var r *retry.Retryer
	r = retry.New(retry.Config{
		Policy:  q.cfg.Retry,
		Delay:   q.cfg.RetryDelay,
		Online:  cc.Online,
		Focused: cc.Focused,
		OnSuccess: func(v any) {
			q.settle(r, v, nil)
		},
		OnError: func(err error) {
			q.settle(r, nil, err)
		},
		OnFail: func(failures int, _ error) {
			q.fetchFailed(r, failures)
		},
		OnPause: func() {
			cc.Logger.Debug(cc.BaseContext, "query fetch paused",
				observe.Field{Key: "query.hash", Value: q.hash})
		},
		OnContinue: func() {
			cc.Logger.Debug(cc.BaseContext, "query fetch resumed",
				observe.Field{Key: "query.hash", Value: q.hash})
		},
	})
	q.retryer = r

	fctx := &FetchContext{
		key:       q.key,
		pageParam: opts.PageParam,
		meta:      q.cfg.Meta,
		retryer:   r,
		signal:    !cc.DisableAbortSignal,
	}
	ctx := cc.BaseContext

	q.notifyLocked()
	q.mu.Unlock()
	q.notifier.flush()

	return r.Start(func() (any, error) {
		return fn(ctx, fctx)
	})
}

// Cancel aborts the active execution, if any. The execution's Future
// rejects with a *retry.CanceledError carrying opts; Revert restores the
// state held before the fetch began, Silent suppresses the error commit.
// Canceling a settled query is a no-op.
func (q *Query) Cancel(opts retry.CancelOptions) {
	q.mu.Lock()
	r := q.retryer
	q.mu.Unlock()
	if r == nil {
		return
	}
	r.Cancel(opts)
}

// Reset silently cancels any active execution and restores the initial
// idle state, clearing data, errors, and counters.
func (q *Query) Reset() {
	q.Cancel(retry.CancelOptions{Silent: true})
	q.mu.Lock()
	q.state = State{}
	q.revert = nil
	q.notifyLocked()
	if len(q.observers) == 0 {
		q.scheduleGcLocked()
	}
	q.mu.Unlock()
	q.notifier.flush()
}

// SetData commits value as a successful result without running the fetch
// function.
func (q *Query) SetData(value any) {
	q.mu.Lock()
	q.commitSuccessLocked(value, time.Now())
	q.notifyLocked()
	q.mu.Unlock()
	q.notifier.flush()
}

// Invalidate marks the query stale regardless of data age. The mark clears
// on the next successful commit.
func (q *Query) Invalidate() {
	q.mu.Lock()
	if q.state.IsInvalidated {
		q.mu.Unlock()
		return
	}
	q.state.IsInvalidated = true
	q.notifyLocked()
	q.mu.Unlock()
	q.notifier.flush()
}

// settle applies a terminal outcome from execution r. Outcomes from
// superseded executions are discarded.
func (q *Query) settle(r *retry.Retryer, value any, err error) {
	q.mu.Lock()
	if q.retryer != r {
		q.mu.Unlock()
		return
	}
	q.retryer = nil
	revert := q.revert
	q.revert = nil

	notify := true
	var background error
	if err == nil {
		q.commitSuccessLocked(value, time.Now())
	} else {
		ce, canceled := retry.AsCanceled(err)
		switch {
		case canceled && ce.Revert:
			if revert != nil {
				q.state = *revert
			} else {
				q.state.IsFetching = false
			}
		case canceled && ce.Silent:
			q.state.IsFetching = false
			notify = false
		default:
			q.commitErrorLocked(err, time.Now())
			if !canceled {
				background = err
			}
		}
	}

	if notify {
		q.notifyLocked()
	}
	if background != nil {
		handler := q.cache.cfg.BackgroundErrorHandler
		q.notifier.add(func() { handler(q, background) })
	}
	if len(q.observers) == 0 {
		q.scheduleGcLocked()
	}
	q.mu.Unlock()
	q.notifier.flush()
}

// fetchFailed records a failed attempt from execution r so observers can
// track retry progress.
func (q *Query) fetchFailed(r *retry.Retryer, failures int) {
	q.mu.Lock()
	if q.retryer != r {
		q.mu.Unlock()
		return
	}
	q.state.FetchFailureCount = failures
	q.notifyLocked()
	q.mu.Unlock()
	q.notifier.flush()
}

func (q *Query) commitSuccessLocked(value any, now time.Time) {
	q.state.Status = StatusSuccess
	q.state.Data = value
	q.state.Err = nil
	q.state.DataUpdateCount++
	q.state.DataUpdatedAt = now
	q.state.FetchFailureCount = 0
	q.state.IsFetching = false
	q.state.IsInvalidated = false
}

func (q *Query) commitErrorLocked(err error, now time.Time) {
	q.state.Status = StatusError
	q.state.Err = err
	q.state.ErrorUpdateCount++
	q.state.ErrorUpdatedAt = now
	q.state.FetchFailureCount++
	q.state.IsFetching = false
}

// notifyLocked enqueues delivery of the current state to attached
// observers and cache subscribers. Callers flush after unlocking.
func (q *Query) notifyLocked() {
	snap := q.state
	obs := make([]*Observer, len(q.observers))
	copy(obs, q.observers)
	q.notifier.add(func() {
		for _, o := range obs {
			o.deliver(snap)
		}
		q.cache.publish(Event{Type: EventQueryUpdated, Query: q})
	})
}

// enqueueEvent queues a cache-level lifecycle event through the query's
// notifier so it is ordered with the query's state notifications.
func (q *Query) enqueueEvent(t EventType) {
	q.notifier.add(func() {
		q.cache.publish(Event{Type: t, Query: q})
	})
}

// applyConfigLocked merges cfg into the query. A rebuild that leaves
// Fetch, Retry, or RetryDelay nil keeps the existing bindings, so seeding
// data through a bare Build never strips a subscriber's fetch function.
// Meta is replaced wholesale and cacheTime only grows.
func (q *Query) applyConfigLocked(cfg QueryConfig) {
	if cfg.Fetch == nil {
		cfg.Fetch = q.cfg.Fetch
	}
	if cfg.Retry == nil {
		cfg.Retry = q.cfg.Retry
	}
	if cfg.RetryDelay == nil {
		cfg.RetryDelay = q.cfg.RetryDelay
	}
	q.cfg = cfg
	q.cacheTime = max(q.cacheTime, normalizeCacheTime(cfg.CacheTime))
}

// addObserverLocked attaches o if it is not already attached and halts
// any pending collection.
func (q *Query) addObserverLocked(o *Observer) {
	for _, cur := range q.observers {
		if cur == o {
			return
		}
	}
	q.observers = append(q.observers, o)
	q.clearGcLocked()
}

func (q *Query) removeObserver(o *Observer) {
	q.mu.Lock()
	idx := -1
	for i, cur := range q.observers {
		if cur == o {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.observers = append(q.observers[:idx], q.observers[idx+1:]...)
	last := len(q.observers) == 0
	q.mu.Unlock()
	if last {
		q.lastDetached()
	}
}

// lastDetached runs after the observer count drops to zero: cancel what
// the producer lets us cancel, then start the retention countdown. A
// concurrent resubscribe wins the re-check and keeps the query alive.
func (q *Query) lastDetached() {
	q.mu.Lock()
	if len(q.observers) != 0 {
		q.mu.Unlock()
		return
	}
	r := q.retryer
	ct := q.cacheTime
	q.mu.Unlock()

	if r != nil {
		if r.Cancelable() {
			// The producer engaged with cancellation: stop it and
			// restore the pre-fetch state.
			r.Cancel(retry.CancelOptions{Revert: true})
		} else {
			// Let the in-flight attempt commit, but stop further
			// retries.
			r.CancelRetry()
		}
	}

	if ct == NoRetention {
		q.cache.expire(q)
		return
	}
	q.mu.Lock()
	if len(q.observers) == 0 {
		q.scheduleGcLocked()
	}
	q.mu.Unlock()
}

// scheduleGcLocked (re)starts the retention countdown. The timer fires
// into Cache.expire, which re-checks eligibility under both locks.
func (q *Query) scheduleGcLocked() {
	q.clearGcLocked()
	if q.cacheTime == NeverExpire {
		return
	}
	d := q.cacheTime
	if d < 0 {
		d = 0
	}
	q.gcTimer = time.AfterFunc(d, func() {
		q.cache.expire(q)
	})
}

func (q *Query) clearGcLocked() {
	if q.gcTimer != nil {
		q.gcTimer.Stop()
		q.gcTimer = nil
	}
}
