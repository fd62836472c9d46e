package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/querykit/retry"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Cache is the registry to operate on. When nil, a new one is built
	// from CacheConfig.
	Cache *Cache

	// CacheConfig configures the cache built when Cache is nil.
	CacheConfig CacheConfig
}

// Client is the operational facade over one Cache: imperative fetch,
// seed, read, invalidate, and bulk operations. All methods are safe for
// concurrent use.
type Client struct {
	cache *Cache
}

// NewClient creates a client, building a cache when none is supplied.
func NewClient(cfg ClientConfig) *Client {
	c := cfg.Cache
	if c == nil {
		c = NewCache(cfg.CacheConfig)
	}
	return &Client{cache: c}
}

// Cache returns the underlying registry.
func (cl *Client) Cache() *Cache { return cl.cache }

// FetchQuery builds or reuses the query for key and returns its data,
// fetching unless the cached entry is still fresh under cfg.StaleTime.
// Concurrent calls for the same key share one execution. fn overrides
// cfg.Fetch when non-nil. ctx bounds only this caller's wait, not the
// execution.
func (cl *Client) FetchQuery(ctx context.Context, key Key, fn FetchFunc, cfg QueryConfig) (any, error) {
	if fn != nil {
		cfg.Fetch = fn
	}
	q, err := cl.cache.Build(key, cfg)
	if err != nil {
		return nil, err
	}
	if !q.isStaleByTime(cfg.StaleTime) {
		return q.State().Data, nil
	}
	return q.Fetch(FetchOptions{}).Wait(ctx)
}

// PrefetchQuery warms the cache for key without waiting for the result.
// Terminal fetch errors are committed to the query and reported through
// the cache's background error handler, never returned here; the error
// return covers build problems only.
func (cl *Client) PrefetchQuery(key Key, fn FetchFunc, cfg QueryConfig) error {
	if fn != nil {
		cfg.Fetch = fn
	}
	q, err := cl.cache.Build(key, cfg)
	if err != nil {
		return err
	}
	if q.isStaleByTime(cfg.StaleTime) {
		q.Fetch(FetchOptions{})
	}
	return nil
}

// SetQueryData seeds or replaces the data for key, creating the query
// with default configuration if absent.
func (cl *Client) SetQueryData(key Key, value any) error {
	q, err := cl.cache.Build(key, QueryConfig{})
	if err != nil {
		return err
	}
	q.SetData(value)
	return nil
}

// GetQueryData returns the committed data for key. ok is false when no
// query exists or none has ever been committed.
func (cl *Client) GetQueryData(key Key) (any, bool) {
	q, ok := cl.cache.Find(key)
	if !ok {
		return nil, false
	}
	st := q.State()
	if !st.HasData() {
		return nil, false
	}
	return st.Data, true
}

// GetQueryState returns the state snapshot for key.
func (cl *Client) GetQueryState(key Key) (State, bool) {
	q, ok := cl.cache.Find(key)
	if !ok {
		return State{}, false
	}
	return q.State(), true
}

// InvalidateQueries marks every matching query stale, then concurrently
// refetches the ones with attached observers. Returns the first refetch
// error; cancellations do not count as errors.
func (cl *Client) InvalidateQueries(ctx context.Context, f Filter) error {
	queries := cl.cache.FindAll(f)
	for _, q := range queries {
		q.Invalidate()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		if q.ObserverCount() == 0 {
			continue
		}
		q := q
		g.Go(func() error {
			if _, err := q.Fetch(FetchOptions{}).Wait(ctx); err != nil && !retry.IsCanceled(err) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// RefetchQueries concurrently refetches every matching query. Returns the
// first error; cancellations do not count as errors.
func (cl *Client) RefetchQueries(ctx context.Context, f Filter) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range cl.cache.FindAll(f) {
		q := q
		g.Go(func() error {
			if _, err := q.Fetch(FetchOptions{}).Wait(ctx); err != nil && !retry.IsCanceled(err) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// CancelQueries cancels the in-flight execution of every matching query,
// reverting each to its pre-fetch state.
func (cl *Client) CancelQueries(f Filter) {
	for _, q := range cl.cache.FindAll(f) {
		q.Cancel(retry.CancelOptions{Revert: true})
	}
}

// RemoveQueries removes every matching query from the cache.
func (cl *Client) RemoveQueries(f Filter) {
	for _, q := range cl.cache.FindAll(f) {
		cl.cache.Remove(q)
	}
}

// Clear removes every query.
func (cl *Client) Clear() {
	cl.cache.Clear()
}

// Fetch is the typed form of Client.FetchQuery.
func Fetch[T any](ctx context.Context, cl *Client, key Key, fn func(context.Context, *FetchContext) (T, error), cfg QueryConfig) (T, error) {
	var zero T
	var ff FetchFunc
	if fn != nil {
		ff = func(ctx context.Context, fctx *FetchContext) (any, error) {
			return fn(ctx, fctx)
		}
	}
	v, err := cl.FetchQuery(ctx, key, ff, cfg)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: query %s holds %T, not %T", key, v, zero)
	}
	return t, nil
}

// QueryData is the typed form of Client.GetQueryData. ok is false when the
// entry is absent, has no data, or holds a different type.
func QueryData[T any](cl *Client, key Key) (T, bool) {
	v, ok := cl.GetQueryData(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
