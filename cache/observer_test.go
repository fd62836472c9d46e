package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/querykit/readiness"
)

func newTestClient() *Client {
	return NewClient(ClientConfig{CacheConfig: CacheConfig{
		Online:  readiness.NewTracker(true),
		Focused: readiness.NewTracker(true),
	}})
}

// subscribeAndSettle subscribes o and blocks until the listener observes a
// settled snapshot.
func subscribeAndSettle(t *testing.T, o *Observer) func() {
	t.Helper()
	states := make(chan State, 16)
	cancel, err := o.Subscribe(func(s State) {
		select {
		case states <- s:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v, want nil", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if !s.IsFetching && s.Status != StatusIdle {
				return cancel
			}
		case <-deadline:
			t.Fatal("subscription never observed a settled state")
		}
	}
}

func TestObserver_SubscribeFetchesWhenStale(t *testing.T) {
	cl := newTestClient()
	var invocations int32

	o := NewObserver(cl, ObserverConfig{
		Key: Key{"todos"},
		Fetch: func(ctx context.Context, fctx *FetchContext) (any, error) {
			atomic.AddInt32(&invocations, 1)
			return "fetched", nil
		},
	})

	cancel := subscribeAndSettle(t, o)
	defer cancel()

	if n := atomic.LoadInt32(&invocations); n != 1 {
		t.Errorf("fetch invoked %d times on subscribe, want 1", n)
	}
	st := o.Query().State()
	if st.Status != StatusSuccess || st.Data != "fetched" {
		t.Errorf("state = (%v, %v), want (success, fetched)", st.Status, st.Data)
	}
}

func TestObserver_SubscribeFreshDataSkipsFetch(t *testing.T) {
	cl := newTestClient()
	key := Key{"todos"}
	if err := cl.SetQueryData(key, "seed"); err != nil {
		t.Fatalf("SetQueryData() error = %v", err)
	}

	var invocations int32
	o := NewObserver(cl, ObserverConfig{
		Key:       key,
		StaleTime: time.Hour,
		Fetch: func(ctx context.Context, fctx *FetchContext) (any, error) {
			atomic.AddInt32(&invocations, 1)
			return "fetched", nil
		},
	})

	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&invocations); n != 0 {
		t.Errorf("fetch invoked %d times for fresh data, want 0", n)
	}
	if data, ok := cl.GetQueryData(key); !ok || data != "seed" {
		t.Errorf("GetQueryData() = (%v, %v), want (seed, true)", data, ok)
	}
}

func TestObserver_DisabledSuppressesAutoFetch(t *testing.T) {
	cl := newTestClient()
	var invocations int32

	o := NewObserver(cl, ObserverConfig{
		Key:      Key{"todos"},
		Disabled: true,
		Fetch: func(ctx context.Context, fctx *FetchContext) (any, error) {
			atomic.AddInt32(&invocations, 1)
			return "fetched", nil
		},
	})

	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&invocations); n != 0 {
		t.Fatalf("fetch invoked %d times while disabled, want 0", n)
	}

	// Explicit refetch still dispatches.
	if _, err := o.Refetch().Wait(context.Background()); err != nil {
		t.Fatalf("Refetch().Wait() error = %v, want nil", err)
	}
	if n := atomic.LoadInt32(&invocations); n != 1 {
		t.Errorf("fetch invoked %d times after Refetch, want 1", n)
	}
}

func TestObserver_SecondSubscribeFails(t *testing.T) {
	cl := newTestClient()
	o := NewObserver(cl, ObserverConfig{Key: Key{"todos"}, Disabled: true})

	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if _, err := o.Subscribe(nil); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("second Subscribe() error = %v, want ErrAlreadySubscribed", err)
	}

	cancel()
	if o.IsSubscribed() {
		t.Fatal("IsSubscribed() = true after unsubscribe")
	}

	// A fresh cycle is allowed once the previous one ended.
	cancel2, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("resubscribe error = %v, want nil", err)
	}
	cancel2()
}

func TestObserver_UnsubscribeIdempotent(t *testing.T) {
	cl := newTestClient()
	key := Key{"todos"}

	a := NewObserver(cl, ObserverConfig{Key: key, Disabled: true})
	b := NewObserver(cl, ObserverConfig{Key: key, Disabled: true})

	cancelA, err := a.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe(a) error = %v", err)
	}
	cancelB, err := b.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe(b) error = %v", err)
	}

	q := a.Query()
	if got := q.ObserverCount(); got != 2 {
		t.Fatalf("ObserverCount() = %d, want 2", got)
	}

	cancelA()
	cancelA()
	cancelA()
	if got := q.ObserverCount(); got != 1 {
		t.Errorf("ObserverCount() = %d after repeated cancel, want 1", got)
	}
	cancelB()
	if got := q.ObserverCount(); got != 0 {
		t.Errorf("ObserverCount() = %d, want 0", got)
	}
}

func TestObserver_RefetchNotSubscribed(t *testing.T) {
	cl := newTestClient()
	o := NewObserver(cl, ObserverConfig{Key: Key{"todos"}})

	_, err := o.Refetch().Wait(context.Background())
	if !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("Refetch().Wait() error = %v, want ErrNotSubscribed", err)
	}
}

func TestObserver_RefetchSurvivesSetQueryData(t *testing.T) {
	cl := newTestClient()
	key := Key{"todos"}
	var invocations int32

	o := NewObserver(cl, ObserverConfig{
		Key: key,
		Fetch: func(ctx context.Context, fctx *FetchContext) (any, error) {
			return atomic.AddInt32(&invocations, 1), nil
		},
	})
	cancel := subscribeAndSettle(t, o)
	defer cancel()

	// Seeding rebuilds the query with an empty config; the subscriber's
	// fetch binding must survive the rebuild.
	if err := cl.SetQueryData(key, "seeded"); err != nil {
		t.Fatalf("SetQueryData() error = %v", err)
	}

	v, err := o.Refetch().Wait(context.Background())
	if err != nil {
		t.Fatalf("Refetch() after SetQueryData error = %v, want nil", err)
	}
	if v != int32(2) {
		t.Errorf("Refetch() value = %v, want 2", v)
	}
	if n := atomic.LoadInt32(&invocations); n != 2 {
		t.Errorf("fetch invoked %d times, want 2", n)
	}
}

func TestObserver_SubscribeEmptyKey(t *testing.T) {
	cl := newTestClient()
	o := NewObserver(cl, ObserverConfig{})

	if _, err := o.Subscribe(nil); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Subscribe() error = %v, want ErrEmptyKey", err)
	}
	if o.IsSubscribed() {
		t.Error("IsSubscribed() = true after failed subscribe")
	}

	// The failed cycle does not consume the observer.
	if err := o.SetConfig(ObserverConfig{Key: Key{"todos"}, Disabled: true}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() after SetConfig error = %v, want nil", err)
	}
	cancel()
}

func TestObserver_ListenerReceivesOrderedStates(t *testing.T) {
	cl := newTestClient()
	o := NewObserver(cl, ObserverConfig{Key: Key{"todos"}, Disabled: true})

	var mu sync.Mutex
	var counts []int
	cancel, err := o.Subscribe(func(s State) {
		mu.Lock()
		counts = append(counts, s.DataUpdateCount)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	q := o.Query()
	q.SetData("v1")
	q.SetData("v2")
	q.SetData("v3")

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 3}
	if len(counts) != len(want) {
		t.Fatalf("listener saw %d snapshots %v, want %d", len(counts), counts, len(want))
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("snapshot %d has DataUpdateCount = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestObserver_SetConfigRebindsWithoutFetch(t *testing.T) {
	cl := newTestClient()
	var invocations int32
	fetch := func(ctx context.Context, fctx *FetchContext) (any, error) {
		atomic.AddInt32(&invocations, 1)
		return "v", nil
	}

	o := NewObserver(cl, ObserverConfig{Key: Key{"a"}, Disabled: true, Fetch: fetch})
	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()
	oldQuery := o.Query()

	if err := o.SetConfig(ObserverConfig{Key: Key{"b"}, Disabled: true, Fetch: fetch}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	newQuery := o.Query()
	if newQuery == oldQuery {
		t.Fatal("SetConfig did not move the observer to the new key")
	}
	if got := oldQuery.ObserverCount(); got != 0 {
		t.Errorf("old query ObserverCount() = %d, want 0", got)
	}
	if got := newQuery.ObserverCount(); got != 1 {
		t.Errorf("new query ObserverCount() = %d, want 1", got)
	}
	// Config changes never fetch by themselves.
	if n := atomic.LoadInt32(&invocations); n != 0 {
		t.Errorf("fetch invoked %d times by SetConfig, want 0", n)
	}
}

func TestObserver_LastDetachLetsUncancelableAttemptCommit(t *testing.T) {
	cl := newTestClient()
	started := make(chan struct{})
	release := make(chan struct{})

	// The producer never consumes the abort signal or registers a cancel
	// capability; detaching must let its in-flight attempt commit.
	o := NewObserver(cl, ObserverConfig{
		Key: Key{"slow"},
		Fetch: func(ctx context.Context, fctx *FetchContext) (any, error) {
			close(started)
			<-release
			return "committed", nil
		},
	})

	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	<-started
	q := o.Query()

	cancel()
	close(release)

	waitFor(t, func() bool {
		st := q.State()
		return st.Status == StatusSuccess && st.Data == "committed"
	}, "in-flight attempt did not commit after last detach")

	if st := q.State(); st.DataUpdateCount != 1 {
		t.Errorf("DataUpdateCount = %d, want 1", st.DataUpdateCount)
	}
}

func TestObserver_LastDetachAbortsSignalConsumer(t *testing.T) {
	cl := newTestClient()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	o := NewObserver(cl, ObserverConfig{
		Key: Key{"cancelable"},
		Fetch: func(ctx context.Context, fctx *FetchContext) (any, error) {
			sig := fctx.Signal()
			close(started)
			select {
			case <-sig:
				return nil, errors.New("aborted")
			case <-release:
				return "v", nil
			}
		},
	})

	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	<-started
	q := o.Query()

	// The producer consumed the abort signal, so the last detach cancels
	// outright and reverts to the pre-fetch state.
	cancel()

	st := q.State()
	if st.Status != StatusIdle {
		t.Errorf("Status = %v after detach cancel, want %v", st.Status, StatusIdle)
	}
	if st.HasData() {
		t.Error("HasData() = true after revert, want false")
	}
	if st.IsFetching {
		t.Error("IsFetching = true after detach cancel, want false")
	}
}

func TestObserver_LastDetachInvokesRegisteredCancel(t *testing.T) {
	cl := newTestClient()
	started := make(chan struct{})
	aborted := make(chan struct{})

	o := NewObserver(cl, ObserverConfig{
		Key: Key{"cancelable"},
		Fetch: func(ctx context.Context, fctx *FetchContext) (any, error) {
			fctx.OnCancel(func() { close(aborted) })
			close(started)
			<-aborted
			return nil, errors.New("aborted")
		},
	})

	cancel, err := o.Subscribe(nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	<-started
	q := o.Query()

	cancel()

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("registered cancel capability never ran")
	}

	st := q.State()
	if st.Status != StatusIdle || st.HasData() {
		t.Errorf("state = (%v, hasData=%v) after detach cancel, want (idle, false)",
			st.Status, st.HasData())
	}
}

func TestObserver_NoRetentionRemovesOnLastDetach(t *testing.T) {
	cl := newTestClient()
	key := Key{"ephemeral"}
	var invocations int32
	fetch := func(ctx context.Context, fctx *FetchContext) (any, error) {
		return int(atomic.AddInt32(&invocations, 1)), nil
	}

	o := NewObserver(cl, ObserverConfig{Key: key, CacheTime: NoRetention, Fetch: fetch})
	cancel := subscribeAndSettle(t, o)
	if n := atomic.LoadInt32(&invocations); n != 1 {
		t.Fatalf("fetch invoked %d times, want 1", n)
	}

	cancel()
	// NoRetention removes synchronously with the last detach.
	if got := cl.Cache().Len(); got != 0 {
		t.Fatalf("Len() = %d right after last detach, want 0", got)
	}

	// A later subscriber gets a fresh query and a fresh invocation.
	o2 := NewObserver(cl, ObserverConfig{Key: key, CacheTime: NoRetention, Fetch: fetch})
	cancel2 := subscribeAndSettle(t, o2)
	defer cancel2()

	if n := atomic.LoadInt32(&invocations); n != 2 {
		t.Errorf("fetch invoked %d times after resubscribe, want 2", n)
	}
	if st := o2.Query().State(); st.DataUpdateCount != 1 {
		t.Errorf("DataUpdateCount = %d on the fresh query, want 1", st.DataUpdateCount)
	}
}

func TestObserver_CountExactUnderConcurrency(t *testing.T) {
	cl := newTestClient()
	key := Key{"contended"}
	const n = 50

	cancels := make([]func(), n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			o := NewObserver(cl, ObserverConfig{Key: key, Disabled: true, CacheTime: NeverExpire})
			cancel, err := o.Subscribe(nil)
			if err != nil {
				return err
			}
			cancels[i] = cancel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Subscribe() error = %v", err)
	}

	q, ok := cl.Cache().Find(key)
	if !ok {
		t.Fatal("query not registered after concurrent subscribes")
	}
	if got := q.ObserverCount(); got != n {
		t.Errorf("ObserverCount() = %d after %d subscribes, want %d", got, n, n)
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			cancels[i]()
		}(i)
	}
	wg.Wait()

	if got := q.ObserverCount(); got != 0 {
		t.Errorf("ObserverCount() = %d after all detached, want 0", got)
	}
}
