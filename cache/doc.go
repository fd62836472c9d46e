// Package cache provides a client-side asynchronous data cache.
//
// Given a key and a fetch function, the cache runs the fetch at most once
// at a time per key, stores the result, retries failures with backoff that
// pauses while the process is offline or unfocused, and fans state changes
// out to subscribers. Unused entries are garbage collected after a
// retention window.
//
// # Queries
//
// A Query is one cached unit: a key, its canonical hash, a state record
// (status, data, error, bookkeeping counters), and at most one in-flight
// execution. Queries are built and owned by a Cache; callers reach them
// through a Client facade or an Observer subscription.
//
//	client := cache.NewClient(cache.ClientConfig{})
//	users, err := client.FetchQuery(ctx, cache.Key{"users", 42}, fetchUser,
//		cache.QueryConfig{StaleTime: 30 * time.Second})
//
// Concurrent fetches for the same key share a single execution and a
// single settlement.
//
// # Observers
//
// An Observer subscribes a listener to one query's state. Subscribing
// fetches automatically when the entry is missing, stale, or invalidated;
// the last unsubscribe cancels what the producer can cancel and starts the
// retention countdown.
//
//	obs := cache.NewObserver(client, cache.ObserverConfig{
//		Key:   cache.Key{"users", 42},
//		Fetch: fetchUser,
//	})
//	cancel, err := obs.Subscribe(func(s cache.State) { render(s) })
//
// # Retention
//
// Every query carries a retention window (CacheTime) that starts when its
// last observer detaches. Rebuilding a query can only lengthen the window.
// NoRetention removes the entry synchronously on the last unsubscribe;
// NeverExpire disables collection.
//
// # Cancellation
//
// Fetch functions opt in to cancellation by consuming the abort channel
// (FetchContext.Signal) or registering a callback (FetchContext.OnCancel).
// Engaged producers are reverted when their last observer leaves;
// producers that ignore cancellation run to completion and their result is
// still committed.
package cache
