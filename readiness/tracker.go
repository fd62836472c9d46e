package readiness

import "sync"

// Tracker reports one boolean environment condition and notifies subscribers
// when it transitions.
//
// Contract:
//   - All methods are safe for concurrent use.
//   - Listeners are invoked synchronously, outside the Tracker's lock, in
//     subscription order, and only when the value actually changes.
//   - A listener may call back into the Tracker (including Subscribe and the
//     cancel function) without deadlocking.
type Tracker struct {
	mu         sync.Mutex
	value      bool
	overridden bool
	nextID     int
	subs       []subscription
}

type subscription struct {
	id int
	fn func(bool)
}

// NewTracker returns a Tracker with the given initial value.
func NewTracker(initial bool) *Tracker {
	return &Tracker{value: initial}
}

// Value returns the current condition.
func (t *Tracker) Value() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Set records a transition reported by the host environment. Redundant calls
// (no value change) do not notify. While an Override is active, Set is
// ignored so tests stay deterministic.
func (t *Tracker) Set(v bool) {
	t.mu.Lock()
	if t.overridden || t.value == v {
		t.mu.Unlock()
		return
	}
	t.value = v
	subs := t.snapshotLocked()
	t.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Subscribe registers fn to run on every transition and returns a cancel
// function. Cancel is idempotent. A notification already dispatched on
// another goroutine may still be delivered after cancel returns; no new
// notifications start afterward.
func (t *Tracker) Subscribe(fn func(bool)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
	}
}

// Override pins the tracker to v and returns a restore function that puts
// back the prior value and override state. Overrides nest: each restore
// rewinds exactly one Override call. Transitions caused by Override and
// restore notify subscribers like any other.
func (t *Tracker) Override(v bool) func() {
	t.mu.Lock()
	prevValue := t.value
	prevOverridden := t.overridden
	t.overridden = true
	changed := t.value != v
	t.value = v
	subs := t.snapshotLocked()
	t.mu.Unlock()

	if changed {
		for _, s := range subs {
			s.fn(v)
		}
	}

	return func() {
		t.mu.Lock()
		t.overridden = prevOverridden
		changed := t.value != prevValue
		t.value = prevValue
		subs := t.snapshotLocked()
		t.mu.Unlock()

		if changed {
			for _, s := range subs {
				s.fn(prevValue)
			}
		}
	}
}

func (t *Tracker) snapshotLocked() []subscription {
	subs := make([]subscription, len(t.subs))
	copy(subs, t.subs)
	return subs
}

var (
	online  = NewTracker(true)
	focused = NewTracker(true)
)

// Online returns the process-wide connectivity tracker. It starts true;
// hosts that can detect connectivity loss feed transitions in with Set.
func Online() *Tracker { return online }

// Focused returns the process-wide focus/visibility tracker. It starts true;
// hosts with a focusable surface feed transitions in with Set.
func Focused() *Tracker { return focused }
