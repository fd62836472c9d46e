// Package readiness tracks environment conditions that gate background work.
//
// This package models two process-wide signals a client-side cache cares
// about: whether the process currently has network connectivity, and whether
// its host surface (window, tab, app) is focused and visible. Each signal is
// a Tracker: a subscribable boolean with a current value, change
// notifications, and a test override. Trackers are passed to the components
// that need them rather than read as ambient globals, so tests can substitute
// deterministic instances.
//
// # Core Concepts
//
// A Tracker holds one boolean condition. The host environment reports
// transitions with Set; interested components read Value or Subscribe for
// change notifications. Listeners run only on actual transitions, not on
// redundant Set calls.
//
// # Basic Usage
//
//	online := readiness.Online()
//	if !online.Value() {
//	    // defer network work until connectivity returns
//	}
//
//	cancel := online.Subscribe(func(up bool) {
//	    if up {
//	        resumeQueuedWork()
//	    }
//	})
//	defer cancel()
//
// # Wiring Environment Events
//
// The package does not bind to any platform event source itself. Hosts feed
// transitions in from whatever mechanism they have:
//
//	// e.g. from a connectivity watcher
//	readiness.Online().Set(false)
//
//	// e.g. from a window focus callback
//	readiness.Focused().Set(true)
//
// # Test Overrides
//
// Override pins a tracker to a fixed value and returns a restore function,
// so tests can simulate offline or hidden conditions without touching real
// environment state:
//
//	restore := readiness.Online().Override(false)
//	defer restore()
package readiness
