package cache

import "sync"

// notifier serializes callback delivery for one query. Callbacks are
// appended while the state lock is held, so the queue order is exactly the
// order state changes were applied; they are delivered by whichever
// goroutine flushes first, with no locks held. A callback that mutates the
// query appends further callbacks and returns; the active drainer delivers
// those too, so delivery never nests and never reorders.
type notifier struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

// add appends a callback. Callers append while holding the lock that
// guards the state change the callback describes, then flush after
// releasing it.
func (n *notifier) add(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
}

// flush delivers queued callbacks in order. If another goroutine is
// already draining, flush returns immediately and that drainer delivers
// the new entries. Must be called with no locks held.
func (n *notifier) flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.queue) > 0 {
		fn := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()
		fn()
		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}
