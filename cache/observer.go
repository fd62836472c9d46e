package cache

import (
	"sync"
	"time"

	"github.com/jonwraymond/querykit/retry"
)

// ObserverConfig configures an Observer. Key is required; everything else
// has a usable zero value.
type ObserverConfig struct {
	// Key identifies the observed query.
	Key Key

	// Fetch produces the query's value.
	Fetch FetchFunc

	// Disabled suppresses the automatic fetch on subscribe. Explicit
	// Fetch and Refetch calls still work.
	Disabled bool

	// StaleTime is how long committed data counts as fresh for the
	// subscribe-time fetch decision. Zero means always stale.
	StaleTime time.Duration

	// CacheTime is the query's retention window, same semantics as
	// QueryConfig.CacheTime.
	CacheTime time.Duration

	// Retry and RetryDelay configure the query's retry behavior.
	Retry      retry.Policy
	RetryDelay retry.DelayFunc

	// Meta is attached to the query, replaced wholesale on each build.
	Meta Meta
}

func (cfg ObserverConfig) queryConfig() QueryConfig {
	return QueryConfig{
		Fetch:      cfg.Fetch,
		Retry:      cfg.Retry,
		RetryDelay: cfg.RetryDelay,
		StaleTime:  cfg.StaleTime,
		CacheTime:  cfg.CacheTime,
		Meta:       cfg.Meta,
	}
}

// Observer subscribes a listener to one query's state.
//
// Contract:
//   - At most one active subscription per observer; a new Subscribe is
//     allowed after unsubscribing.
//   - Subscribing attaches to the query (building it if absent) and
//     fetches when the entry is missing, stale, or invalidated, unless
//     Disabled.
//   - The listener receives every state change in application order. A
//     snapshot already being delivered may still arrive just after
//     unsubscribing.
//   - The last observer to detach from a query lets the cache cancel the
//     execution and start the retention countdown.
type Observer struct {
	client *Client

	mu       sync.Mutex
	cfg      ObserverConfig
	active   bool
	gen      int
	listener func(State)
	query    *Query
}

// NewObserver creates an observer for the query named by cfg.Key. Nothing
// happens until Subscribe.
func NewObserver(client *Client, cfg ObserverConfig) *Observer {
	return &Observer{client: client, cfg: cfg}
}

// Subscribe attaches the observer and returns an idempotent unsubscribe
// function. A nil listener keeps the query alive without receiving
// snapshots. Returns ErrAlreadySubscribed while a subscription is active,
// or the key's hashing error.
func (o *Observer) Subscribe(listener func(State)) (func(), error) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	o.active = true
	o.gen++
	gen := o.gen
	o.listener = listener
	cfg := o.cfg
	o.mu.Unlock()

	q, err := o.client.cache.build(cfg.Key, cfg.queryConfig(), o)
	if err != nil {
		o.mu.Lock()
		if o.gen == gen {
			o.active = false
			o.listener = nil
		}
		o.mu.Unlock()
		return nil, err
	}

	o.mu.Lock()
	o.query = q
	o.mu.Unlock()

	if !cfg.Disabled && q.isStaleByTime(cfg.StaleTime) {
		q.Fetch(FetchOptions{})
	}
	return func() { o.unsubscribe(gen) }, nil
}

// unsubscribe detaches the cycle identified by gen. Cancel functions from
// earlier cycles are inert.
func (o *Observer) unsubscribe(gen int) {
	o.mu.Lock()
	if !o.active || o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.active = false
	o.listener = nil
	q := o.query
	o.query = nil
	o.mu.Unlock()
	if q != nil {
		q.removeObserver(o)
	}
}

// SetConfig replaces the observer's configuration. While subscribed, the
// observer moves to the query named by the new key, detaching from the old
// one. Config changes never fetch by themselves; only Subscribe, Fetch,
// and Refetch dispatch fetches.
func (o *Observer) SetConfig(cfg ObserverConfig) error {
	o.mu.Lock()
	o.cfg = cfg
	if !o.active || o.query == nil {
		o.mu.Unlock()
		return nil
	}
	old := o.query
	o.mu.Unlock()

	q, err := o.client.cache.build(cfg.Key, cfg.queryConfig(), o)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if !o.active {
		// Unsubscribed while rebinding; undo the attachment.
		o.mu.Unlock()
		q.removeObserver(o)
		return nil
	}
	o.query = q
	o.mu.Unlock()

	if old != q {
		old.removeObserver(o)
	}
	return nil
}

// Refetch dispatches a fetch for the observed query regardless of
// staleness and returns its settlement future. Rejects with
// ErrNotSubscribed when the observer is not subscribed.
func (o *Observer) Refetch() *retry.Future {
	o.mu.Lock()
	q := o.query
	o.mu.Unlock()
	if q == nil {
		return retry.Rejected(ErrNotSubscribed)
	}
	return q.Fetch(FetchOptions{})
}

// Query returns the observed query, nil when not subscribed.
func (o *Observer) Query() *Query {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.query
}

// IsSubscribed reports whether the observer has an active subscription.
func (o *Observer) IsSubscribed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// deliver hands a state snapshot to the listener. Runs on notifier drain
// goroutines with no locks held.
func (o *Observer) deliver(s State) {
	o.mu.Lock()
	fn := o.listener
	o.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
