package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/jonwraymond/querykit/observe"
	"github.com/jonwraymond/querykit/readiness"
	"github.com/jonwraymond/querykit/retry"
)

// EventType classifies cache lifecycle events.
type EventType int

const (
	// EventQueryAdded fires when a build registers a new query.
	EventQueryAdded EventType = iota

	// EventQueryRemoved fires when a query leaves the registry.
	EventQueryRemoved

	// EventQueryUpdated fires on every state change of a registered query.
	EventQueryUpdated
)

func (t EventType) String() string {
	switch t {
	case EventQueryAdded:
		return "query.added"
	case EventQueryRemoved:
		return "query.removed"
	case EventQueryUpdated:
		return "query.updated"
	default:
		return "unknown"
	}
}

// Event describes a change to the cache's contents.
type Event struct {
	Type  EventType
	Query *Query
}

// Filter selects queries for lookups and bulk operations. The zero value
// matches every query; Key and Predicate compose when both are set.
type Filter struct {
	// Key restricts the match to the one query with this exact key.
	Key Key

	// Predicate keeps only queries it returns true for. It runs without
	// cache locks held and may inspect query state.
	Predicate func(*Query) bool
}

// CacheConfig configures a Cache. The zero value is usable: defaults are
// applied by NewCache.
type CacheConfig struct {
	// Hasher names queries. Defaults to NewDefaultKeyHasher().
	Hasher KeyHasher

	// Online gates retry scheduling on connectivity.
	// Defaults to readiness.Online().
	Online *readiness.Tracker

	// Focused gates retry scheduling on visibility.
	// Defaults to readiness.Focused().
	Focused *readiness.Tracker

	// Logger receives fetch lifecycle debug logs and, by default,
	// background errors. Defaults to observe.NopLogger().
	Logger observe.Logger

	// Metrics, when set, receives one cache-event record per lifecycle
	// event, labeled with the event name.
	Metrics observe.Metrics

	// BackgroundErrorHandler receives every terminal fetch error that is
	// not a cancellation, whether or not a caller is awaiting the fetch.
	// Defaults to an error log through Logger.
	BackgroundErrorHandler func(*Query, error)

	// BaseContext is the context handed to fetch functions. It is the
	// execution's lifetime context, never canceled by query cancellation.
	// Defaults to context.Background().
	BaseContext context.Context

	// DisableAbortSignal withholds the abort channel from fetch contexts.
	// OnCancel registration still works.
	DisableAbortSignal bool
}

// Cache is the query registry: it canonicalizes keys, builds and reuses
// queries, fans out lifecycle events, and collects entries whose retention
// window has lapsed.
//
// Contract:
// - Concurrency: all methods are safe for concurrent use.
// - Identity: at most one registered query per canonical hash.
// - Ownership: the cache owns query lifetimes. A removed query stays safe
//   to use through held pointers but no longer names a registry entry.
// - Events: per query, subscribers observe added, updates, and removed in
//   application order.
type Cache struct {
	cfg CacheConfig

	mu      sync.Mutex
	queries map[string]*Query
	subs    []cacheSub
	nextSub int
}

type cacheSub struct {
	id int
	fn func(Event)
}

// NewCache creates a query registry, applying CacheConfig defaults.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.Hasher == nil {
		cfg.Hasher = NewDefaultKeyHasher()
	}
	if cfg.Online == nil {
		cfg.Online = readiness.Online()
	}
	if cfg.Focused == nil {
		cfg.Focused = readiness.Focused()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.BackgroundErrorHandler == nil {
		logger := cfg.Logger
		ctx := cfg.BaseContext
		cfg.BackgroundErrorHandler = func(q *Query, err error) {
			logger.Error(ctx, "query fetch failed",
				observe.Field{Key: "query.hash", Value: q.Hash()},
				observe.Field{Key: "error", Value: err.Error()})
		}
	}
	c := &Cache{
		cfg:     cfg,
		queries: make(map[string]*Query),
	}
	if cfg.Metrics != nil {
		c.Subscribe(func(ev Event) {
			cfg.Metrics.RecordCacheEvent(cfg.BaseContext, ev.Type.String())
		})
	}
	return c
}

// Build returns the registered query for key, creating an idle one if none
// exists. An existing query has its configuration replaced — except that a
// nil Fetch, Retry, or RetryDelay keeps the existing binding — and its
// retention window bumped to the maximum ever requested; Meta is replaced,
// not merged.
func (c *Cache) Build(key Key, cfg QueryConfig) (*Query, error) {
	return c.build(key, cfg, nil)
}

// build is Build plus optional atomic observer attachment, so a
// subscription can never land on a query that a concurrent collection
// already removed.
func (c *Cache) build(key Key, cfg QueryConfig, attach *Observer) (*Query, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	hash, err := c.cfg.Hasher.Hash(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	q, ok := c.queries[hash]
	if ok {
		q.mu.Lock()
		q.applyConfigLocked(cfg)
		if attach != nil {
			q.addObserverLocked(attach)
		}
		q.mu.Unlock()
		c.mu.Unlock()
		return q, nil
	}

	q = newQuery(c, key, hash, cfg)
	c.queries[hash] = q
	if attach != nil {
		q.mu.Lock()
		q.addObserverLocked(attach)
		q.mu.Unlock()
	}
	q.enqueueEvent(EventQueryAdded)
	c.mu.Unlock()
	q.notifier.flush()
	return q, nil
}

// Find returns the registered query for key, if any.
func (c *Cache) Find(key Key) (*Query, bool) {
	hash, err := c.cfg.Hasher.Hash(key)
	if err != nil {
		return nil, false
	}
	return c.Get(hash)
}

// Get returns the registered query for a canonical hash, if any.
func (c *Cache) Get(hash string) (*Query, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queries[hash]
	return q, ok
}

// FindAll returns the queries matching f, ordered by canonical hash.
func (c *Cache) FindAll(f Filter) []*Query {
	var hash string
	exact := len(f.Key) > 0
	if exact {
		h, err := c.cfg.Hasher.Hash(f.Key)
		if err != nil {
			return nil
		}
		hash = h
	}

	c.mu.Lock()
	matched := make([]*Query, 0, len(c.queries))
	for h, q := range c.queries {
		if exact && h != hash {
			continue
		}
		matched = append(matched, q)
	}
	c.mu.Unlock()

	// Predicates run without the registry lock so they can inspect state.
	if f.Predicate != nil {
		kept := matched[:0]
		for _, q := range matched {
			if f.Predicate(q) {
				kept = append(kept, q)
			}
		}
		matched = kept
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].hash < matched[j].hash
	})
	return matched
}

// Len returns the number of registered queries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// Remove unconditionally unregisters q, silently canceling any execution
// in flight. Removing a query that is no longer registered is a no-op.
func (c *Cache) Remove(q *Query) {
	if q == nil {
		return
	}
	c.mu.Lock()
	q.mu.Lock()
	present := c.queries[q.hash] == q
	if present {
		delete(c.queries, q.hash)
		q.clearGcLocked()
	}
	q.mu.Unlock()
	c.mu.Unlock()
	if !present {
		return
	}

	q.Cancel(retry.CancelOptions{Silent: true})
	q.enqueueEvent(EventQueryRemoved)
	q.notifier.flush()
}

// expire removes q if it is still collectible: registered, observerless,
// and idle. A query mid-fetch gets a fresh countdown instead, except under
// NoRetention where removal proceeds and the execution is silently
// canceled.
func (c *Cache) expire(q *Query) {
	c.mu.Lock()
	q.mu.Lock()
	if c.queries[q.hash] != q || len(q.observers) != 0 {
		q.mu.Unlock()
		c.mu.Unlock()
		return
	}
	if q.retryer != nil && q.cacheTime != NoRetention {
		q.scheduleGcLocked()
		q.mu.Unlock()
		c.mu.Unlock()
		return
	}
	delete(c.queries, q.hash)
	q.clearGcLocked()
	q.mu.Unlock()
	c.mu.Unlock()

	q.Cancel(retry.CancelOptions{Silent: true})
	q.enqueueEvent(EventQueryRemoved)
	q.notifier.flush()
}

// Clear removes every registered query.
func (c *Cache) Clear() {
	c.mu.Lock()
	all := make([]*Query, 0, len(c.queries))
	for _, q := range c.queries {
		all = append(all, q)
	}
	c.mu.Unlock()
	for _, q := range all {
		c.Remove(q)
	}
}

// Subscribe registers fn for cache lifecycle events and returns its cancel
// function. Cancel is idempotent.
func (c *Cache) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, cacheSub{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// publish delivers ev to current subscribers, in subscription order.
// Called from notifier drainers with no locks held.
func (c *Cache) publish(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), len(c.subs))
	for i, s := range c.subs {
		fns[i] = s.fn
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
